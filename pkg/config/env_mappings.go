package config

import (
	"reflect"
	"sync"
	"time"
)

// envPaths maps each `env` tag in Config to its dotted koanf path, for
// example DB_HOST -> database.host.
var envPaths = sync.OnceValue(func() map[string]string {
	paths := make(map[string]string)
	collectEnvPaths(reflect.TypeFor[Config](), "", paths)
	return paths
})

func collectEnvPaths(t reflect.Type, prefix string, into map[string]string) {
	for _, field := range reflect.VisibleFields(t) {
		key := field.Tag.Get("koanf")
		if !field.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeFor[time.Time]() {
			collectEnvPaths(field.Type, key, into)
			continue
		}
		if name := field.Tag.Get("env"); name != "" && name != "-" {
			into[name] = key
		}
	}
}
