package config

import (
	"fmt"
	"sort"
	"strconv"
)

// KeyValue is one row of `config show` output.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll returns every configurable key with its effective value, sorted
// by key. Secret values are masked.
func ShowAll(cfg Config) []KeyValue {
	out := make([]KeyValue, 0, len(specs))
	for _, s := range specs {
		kv := KeyValue{Key: s.key}
		if s.secret {
			if s.extract(cfg) != "" {
				kv.Value = "(set)"
			} else {
				kv.Value = "(unset)"
			}
		} else {
			kv.Value = fmt.Sprintf("%v", s.extract(cfg))
		}
		out = append(out, kv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetKey validates and persists a single key to the config file.
// Secrets cannot be stored; they are provided via environment only.
func SetKey(key, value string) error {
	b := newFileBackend(configFilePath())
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("%s is a secret and must be set via the %s environment variable", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s expects an integer: %w", key, err)
			}
			return b.SetInt(key, i)
		case kBool:
			if _, err := strconv.ParseBool(value); err != nil {
				return fmt.Errorf("%s expects a boolean: %w", key, err)
			}
			return b.SetString(key, value)
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("%s expects a number: %w", key, err)
			}
			return b.SetString(key, value)
		}
	}
	return fmt.Errorf("unknown config key %q (see 'config show' for valid keys)", key)
}

// ValidKeys lists all known configuration keys in sorted order.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	sort.Strings(keys)
	return keys
}
