package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dexft/dexft/internal/config"
	"gopkg.in/yaml.v3"
)

// settingsWriter is the part of the config store used by the importer.
type settingsWriter interface {
	SaveSettings(ctx context.Context, values map[string]string) error
}

// importSettingsFile reads a YAML document and persists its settings.
// Nested mappings are flattened into dotted keys, so both
//
//	transfer:
//	  shared_dir: ~/Public
//
// and `transfer.shared_dir: ~/Public` address the same setting.
func importSettingsFile(ctx context.Context, store settingsWriter, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("config: read %s: %w", path, err)
	}
	values, err := parseSettingsYAML(data)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	if err := store.SaveSettings(ctx, values); err != nil {
		return 0, fmt.Errorf("config: save settings: %w", err)
	}
	return len(values), nil
}

func parseSettingsYAML(data []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	values := make(map[string]string)
	if err := flattenSettings("", doc, values); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !config.IsKnownKey(k) {
			log.Printf("[Config] importing unknown setting %q", k)
		}
	}
	return values, nil
}

func flattenSettings(prefix string, node map[string]any, out map[string]string) error {
	for key, raw := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := raw.(type) {
		case map[string]any:
			if err := flattenSettings(full, v, out); err != nil {
				return err
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				s, err := scalarString(full, item)
				if err != nil {
					return err
				}
				parts = append(parts, s)
			}
			out[full] = strings.Join(parts, settingListSeparator(full))
		default:
			s, err := scalarString(full, v)
			if err != nil {
				return err
			}
			out[full] = s
		}
	}
	return nil
}

// settingListSeparator picks the separator ParseSettings expects when a list
// is given for key: argv lists are whitespace separated, everything else
// is comma separated.
func settingListSeparator(key string) string {
	if key == config.KeyEngineCommand {
		return " "
	}
	return ","
}

func scalarString(key string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("setting %s: unsupported value type %T", key, v)
	}
}
