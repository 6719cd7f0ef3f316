// Package postgres provides a PostgreSQL-based job queue transport. Jobs are
// rows locked with FOR UPDATE SKIP LOCKED; a job is invisible to other
// workers until its locked_until passes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/jobflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

const (
	// DefaultPollInterval is the default interval for polling new jobs.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLockTimeout is the default duration a job is locked by a worker.
	DefaultLockTimeout = 30 * time.Second
	// DefaultRequestTimeout bounds a single fetch query.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultBatchSize is the number of jobs a subscription holds at once.
	DefaultBatchSize = 32
	// DefaultSchemaName is the schema holding the jobs table.
	DefaultSchemaName = "jobflow"
)

var (
	schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	errClosed        = errors.New("postgres transport is closed")
	errNoDSN         = errors.New("PostgreSQL connection string is required")
	errInvalidSchema = errors.New("invalid schema name")
)

func init() {
	Register()
}

// Register adds the PostgreSQL transport and its "postgresql" alias to the
// default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Build creates a new PostgreSQL transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	dsn, err := ConnectionString(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	t, err := New(ctx, Config{
		ConnectionString: dsn,
		PollInterval:     cfg.GetPollInterval(),
		LockTimeout:      cfg.GetJobTimeout(),
		RequestTimeout:   cfg.GetRequestTimeout(),
		ConnMaxIdleTime:  cfg.GetKeepAlive(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// ConnectionString adds the connection settings to a postgres:// gateway
// address: cloud credentials become user info, TLS selects verify-full with
// the configured CA and plaintext disables SSL unless sslmode is given.
// Key/value DSNs are returned unchanged.
func ConnectionString(cfg transport.Config) (string, error) {
	address := cfg.GetGatewayAddress()
	if address == "" {
		return "", errNoDSN
	}
	if !strings.HasPrefix(address, "postgres://") && !strings.HasPrefix(address, "postgresql://") {
		return address, nil
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid gateway address: %w", err)
	}
	if creds, ok := cfg.GetCredentials(); ok {
		parsed.User = url.UserPassword(creds.ClientID, creds.ClientSecret)
	}

	query := parsed.Query()
	switch {
	case cfg.TLSEnabled():
		query.Set("sslmode", "verify-full")
		if ca := cfg.GetCACertificatePath(); ca != "" {
			query.Set("sslrootcert", ca)
		}
	case query.Get("sslmode") == "":
		query.Set("sslmode", "disable")
	}
	if timeout := cfg.GetRequestTimeout(); timeout > 0 && query.Get("connect_timeout") == "" {
		query.Set("connect_timeout", fmt.Sprint(int(max(timeout.Seconds(), 1))))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// PollInterval is the pause between fetches that returned no jobs.
	PollInterval time.Duration
	// LockTimeout is how long a fetched job stays locked.
	LockTimeout time.Duration
	// RequestTimeout bounds one fetch query.
	RequestTimeout time.Duration
	// BatchSize bounds the jobs a subscription holds at once.
	BatchSize int
	// SchemaName is the schema to use for tables. Defaults to "jobflow".
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxIdleTime closes connections idle for longer.
	ConnMaxIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// pollOptions are the effective settings of one subscription.
type pollOptions struct {
	lock         time.Duration
	pollInterval time.Duration
	timeout      time.Duration
	batch        int
}

func (c Config) pollOptions(opts transport.SubscribeOptions) pollOptions {
	batch := c.BatchSize
	if opts.MaxJobsActive > 0 {
		batch = opts.MaxJobsActive
	}
	return pollOptions{
		lock:         transport.OrDefault(opts.LockDuration, c.LockTimeout),
		pollInterval: transport.OrDefault(opts.PollInterval, c.PollInterval),
		timeout:      transport.OrDefault(opts.RequestTimeout, c.RequestTimeout),
		batch:        batch,
	}
}

// Transport implements both Publisher and Subscriber interfaces for PostgreSQL.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New creates a new PostgreSQL-based transport.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.ConnectionString == "" {
		return nil, errNoDSN
	}

	cfg = cfg.withDefaults()
	if !schemaNamePattern.MatchString(cfg.SchemaName) {
		return nil, fmt.Errorf("%w: %q", errInvalidSchema, cfg.SchemaName)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	t := &Transport{
		db:         db,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := t.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return t, nil
}

func (t *Transport) initSchema(ctx context.Context) error {
	// #nosec G201 - schema name is validated in New
	schema := fmt.Sprintf(`
	CREATE SCHEMA IF NOT EXISTS %[1]s;

	CREATE TABLE IF NOT EXISTS %[1]s.jobs (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL,
		topic TEXT NOT NULL,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		available_at TIMESTAMPTZ DEFAULT NOW(),
		locked_until TIMESTAMPTZ,
		deliveries INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_topic_available
		ON %[1]s.jobs(topic, available_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_locked_until ON %[1]s.jobs(locked_until)
		WHERE locked_until IS NOT NULL;
	`, t.config.SchemaName)

	_, err := t.db.ExecContext(ctx, schema)
	return err
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish inserts jobs for the topic in one transaction.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	// #nosec G201 - schema name is validated in New
	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s.jobs (uuid, topic, payload, metadata)
		VALUES ($1, $2, $3, $4)
	`, t.config.SchemaName))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, metadata); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Subscribe polls the topic for unlocked jobs, locking each fetched job for
// the subscription's lock duration. At most MaxJobsActive jobs are held.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}

	opts, _ := transport.SubscribeOptionsFrom(ctx)
	poll := t.config.pollOptions(opts)
	msgChan := make(chan *message.Message)

	t.wg.Add(1)
	go t.pollJobs(ctx, topic, msgChan, poll)

	return msgChan, nil
}

type lockedJob struct {
	id  int64
	msg *message.Message
}

func (t *Transport) pollJobs(ctx context.Context, topic string, msgChan chan *message.Message, poll pollOptions) {
	defer t.wg.Done()
	defer close(msgChan)

	var settling sync.WaitGroup
	defer settling.Wait()

	held := make(chan struct{}, poll.batch)

	for {
		free := poll.batch - len(held)
		var jobs []lockedJob
		if free > 0 {
			jobs = t.fetchAndLock(ctx, topic, free, poll)
		}

		for i, job := range jobs {
			select {
			case msgChan <- job.msg:
			case <-ctx.Done():
				t.releaseAll(jobs[i:])
				return
			case <-t.closedChan:
				t.releaseAll(jobs[i:])
				return
			}

			held <- struct{}{}
			settling.Add(1)
			go func(job lockedJob) {
				defer settling.Done()
				defer func() { <-held }()
				t.settle(ctx, job)
			}(job)
		}

		if len(jobs) > 0 && len(jobs) == free {
			continue
		}

		timer := time.NewTimer(poll.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.closedChan:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transport) fetchAndLock(ctx context.Context, topic string, limit int, poll pollOptions) []lockedJob {
	queryCtx, cancel := context.WithTimeout(ctx, poll.timeout)
	defer cancel()

	now := time.Now().UTC()

	// #nosec G201 - schema name is validated in New
	query := fmt.Sprintf(`
		UPDATE %[1]s.jobs
		SET locked_until = $1, deliveries = deliveries + 1
		WHERE id IN (
			SELECT id FROM %[1]s.jobs
			WHERE topic = $2
			AND available_at <= $3
			AND (locked_until IS NULL OR locked_until < $3)
			ORDER BY available_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING id, uuid, payload, metadata
	`, t.config.SchemaName)

	rows, err := t.db.QueryContext(queryCtx, query, now.Add(poll.lock), topic, now, limit)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Error("failed to fetch and lock jobs", err, watermill.LogFields{"topic": topic})
		}
		return nil
	}
	defer rows.Close()

	var jobs []lockedJob
	for rows.Next() {
		var (
			id           int64
			uuid         string
			payload      []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&id, &uuid, &payload, &metadataJSON); err != nil {
			t.logger.Error("failed to scan job", err, watermill.LogFields{"topic": topic})
			continue
		}

		msg := message.NewMessage(uuid, payload)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				t.logger.Error("failed to unmarshal metadata", err, nil)
			}
		}
		transport.SetLockedUntil(msg, now.Add(poll.lock))
		jobs = append(jobs, lockedJob{id: id, msg: msg})
	}
	if err := rows.Err(); err != nil {
		t.logger.Error("failed to read jobs", err, watermill.LogFields{"topic": topic})
	}
	return jobs
}

// settle deletes an acked job and releases a nacked one for redelivery. Jobs
// abandoned at shutdown keep their lock and reappear once it expires.
func (t *Transport) settle(ctx context.Context, job lockedJob) {
	select {
	case <-job.msg.Acked():
		t.deleteJob(job.id)
	case <-job.msg.Nacked():
		t.release(job.id)
	case <-ctx.Done():
	case <-t.closedChan:
	}
}

func (t *Transport) deleteJob(id int64) {
	// #nosec G201 - schema name is validated in New
	query := fmt.Sprintf(`DELETE FROM %s.jobs WHERE id = $1`, t.config.SchemaName)
	if _, err := t.db.Exec(query, id); err != nil {
		t.logger.Error("failed to delete completed job", err, nil)
	}
}

func (t *Transport) release(id int64) {
	// #nosec G201 - schema name is validated in New
	query := fmt.Sprintf(`UPDATE %s.jobs SET locked_until = NULL WHERE id = $1`, t.config.SchemaName)
	if _, err := t.db.Exec(query, id); err != nil {
		t.logger.Error("failed to release job", err, nil)
	}
}

func (t *Transport) releaseAll(jobs []lockedJob) {
	for _, job := range jobs {
		t.release(job.id)
	}
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.wg.Wait()
	return t.db.Close()
}

// GetPendingCount returns the number of jobs of a topic not yet completed.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	var count int64
	// #nosec G201 - schema name is validated in New
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s.jobs WHERE topic = $1`, t.config.SchemaName)
	err := t.db.QueryRow(query, topic).Scan(&count)
	return count, err
}
