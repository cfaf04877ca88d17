package util

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeOptions decodes loosely typed engine options (as read from a YAML or
// TOML sidecar) into out, which must be a pointer to a struct with
// `mapstructure` tags. Scalars are converted weakly ("64" decodes into an
// int field), unknown keys are ignored so that decorators can share the map.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create option decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("invalid engine options: %w", err)
	}
	return nil
}
