/*
Package runtime wires declared job handlers to a job client at startup.

# Startup

TryNewService runs the following steps once, in order:

 1. client.Build connects the job client to the configured transport.
 2. discovery.Discover extracts one Descriptor per declared handler.
 3. subscription.ResolveAll merges each declaration with the configured
    overrides for its topic.
 4. Registrar.Register opens one subscription per handler.

Steps 1 to 3 complete for every handler before the first subscription
opens. A malformed duration anywhere aborts startup with no subscription
open.

# Packages

  - annotation: the Worker attributes a component declares for its handlers
  - client: job client, subscriptions, job locks, hooks and metrics
  - config: client configuration, per-topic overrides, ISO-8601 durations
  - discovery: handler descriptor extraction
  - subscription: configuration merge
  - jobs: job envelopes, results and the handler contract
  - logging: ServiceLogger and its adapters
  - errors: sentinel and typed errors
*/
package runtime
