// Package jsoncodec encodes job envelopes with sonic.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// variablesConfig keeps numeric variables as json.Number so that large
// integers survive a round trip through a job.
var variablesConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalPreservingNumbers decodes numbers into json.Number instead of float64.
func UnmarshalPreservingNumbers(data []byte, v any) error {
	return variablesConfig.Unmarshal(data, v)
}
