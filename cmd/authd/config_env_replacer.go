package main

import (
	"reflect"
)

// replaceEnvKeys walks data (a pointer to the parsed Config) and replaces
// any string field of the form "$FOO" with os.Getenv("FOO"), so a config
// file can defer a secret to the environment instead of inlining it —
// most useful for Secrets' key fields.
func replaceEnvKeys(data interface{}, getenv func(string) string) error {
	val := reflect.ValueOf(data)

	if val.Kind() != reflect.Interface && val.Kind() != reflect.Ptr {
		return nil
	}

	s := val.Elem()
	if !s.CanSet() {
		return nil
	}

	if s.Kind() == reflect.String {
		value := s.Interface().(string)
		if len(value) > 1 && value[0] == '$' {
			name, valid := value[1:], true
			for i, r := range name {
				letter := r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
				if !letter && (i == 0 || r < '0' || r > '9') {
					valid = false
					break
				}
			}
			if valid {
				s.SetString(getenv(name))
			}
		}
		return nil
	}

	if s.Kind() == reflect.Struct {
		for i := 0; i < s.NumField(); i++ {
			if err := replaceEnvKeys(s.Field(i).Addr().Interface(), getenv); err != nil {
				return err
			}
		}
		return nil
	}

	if s.Kind() == reflect.Slice {
		for i := 0; i < s.Len(); i++ {
			if err := replaceEnvKeys(s.Index(i).Addr().Interface(), getenv); err != nil {
				return err
			}
		}
		return nil
	}

	return nil
}
