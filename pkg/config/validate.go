package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report keys as they are written in the file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateMQTT, MQTTConfig{})
	v.RegisterStructValidation(validateTracing, TracingConfig{})
	return v
}

// requireWhen reports each empty field of fields as required when enabled.
// fields maps the reported key to its value and struct field name.
func requireWhen(sl validator.StructLevel, enabled bool, fields ...[3]string) {
	if !enabled {
		return
	}
	for _, f := range fields {
		if strings.TrimSpace(f[0]) == "" {
			sl.ReportError(f[0], f[1], f[2], "required", "")
		}
	}
}

func validateMQTT(sl validator.StructLevel) {
	c := sl.Current().Interface().(MQTTConfig)
	requireWhen(sl, c.Enabled,
		[3]string{c.BrokerURL, "broker_url", "BrokerURL"},
		[3]string{c.TopicPrefix, "topic_prefix", "TopicPrefix"})
}

func validateTracing(sl validator.StructLevel) {
	c := sl.Current().Interface().(TracingConfig)
	requireWhen(sl, c.Enabled, [3]string{c.ServiceName, "service_name", "ServiceName"})
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	err := validate.Struct(c)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// describe renders a field error with its dotted key, e.g.
// "rest.base_url must be a url".
func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "url":
		return fmt.Sprintf("%s must be a url, got %q", key, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}
