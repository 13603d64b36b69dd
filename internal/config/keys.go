package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTENTD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "INTENTD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "oracle.base_url", typ: kString, env: "INTENTD_ORACLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.BaseURL },
	},
	{
		key: "oracle.model", typ: kString, env: "INTENTD_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.api_key", typ: kString, env: "INTENTD_ORACLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTENTD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.labels_file", typ: kString, env: "INTENTD_STORAGE_LABELS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.LabelsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.LabelsFile },
	},
	{
		key: "pipeline.mode", typ: kString, env: "INTENTD_PIPELINE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Mode },
	},
	{
		key: "pipeline.intent_timeout_s", typ: kFloat, env: "INTENTD_PIPELINE_INTENT_TIMEOUT_S",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.IntentTimeoutS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pipeline.IntentTimeoutS },
	},
	{
		key: "pipeline.local_accept_conf", typ: kFloat, env: "INTENTD_PIPELINE_LOCAL_ACCEPT_CONF",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.LocalAcceptConf = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pipeline.LocalAcceptConf },
	},
	{
		key: "distill.agree_min_conf", typ: kFloat, env: "INTENTD_DISTILL_AGREE_MIN_CONF",
		apply:   func(cfg *Config, v any) { cfg.Distill.AgreeMinConf = v.(float64) },
		extract: func(cfg Config) any { return cfg.Distill.AgreeMinConf },
	},
	{
		key: "distill.teacher_high_conf", typ: kFloat, env: "INTENTD_DISTILL_TEACHER_HIGH_CONF",
		apply:   func(cfg *Config, v any) { cfg.Distill.TeacherHighConf = v.(float64) },
		extract: func(cfg Config) any { return cfg.Distill.TeacherHighConf },
	},
	{
		key: "distill.student_low_conf", typ: kFloat, env: "INTENTD_DISTILL_STUDENT_LOW_CONF",
		apply:   func(cfg *Config, v any) { cfg.Distill.StudentLowConf = v.(float64) },
		extract: func(cfg Config) any { return cfg.Distill.StudentLowConf },
	},
	{
		key: "distill.batch_size", typ: kInt, env: "INTENTD_DISTILL_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Distill.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Distill.BatchSize },
	},
	{
		key: "distill.hot_swap_min_f1", typ: kFloat, env: "INTENTD_DISTILL_HOT_SWAP_MIN_F1",
		apply:   func(cfg *Config, v any) { cfg.Distill.HotSwapMinF1 = v.(float64) },
		extract: func(cfg Config) any { return cfg.Distill.HotSwapMinF1 },
	},
	{
		key: "distill.max_days", typ: kInt, env: "INTENTD_DISTILL_MAX_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Distill.MaxDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Distill.MaxDays },
	},
	{
		key: "distill.train_interval_s", typ: kInt, env: "INTENTD_DISTILL_TRAIN_INTERVAL_S",
		apply:   func(cfg *Config, v any) { cfg.Distill.TrainIntervalS = v.(int) },
		extract: func(cfg Config) any { return cfg.Distill.TrainIntervalS },
	},
	{
		key: "log.level", typ: kString, env: "INTENTD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
