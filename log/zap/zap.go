// Package zap adapts a *zap.Logger to storecache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/storecache"
	"go.uber.org/zap"
)

type Logger struct{ L *zap.Logger }

var _ storecache.Logger = Logger{}

// New names the logger "storecache". A nil l logs nothing.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("storecache")}
}

func (z Logger) Debug(msg string, f storecache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f storecache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f storecache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f storecache.Fields) { z.L.Error(msg, fields(f)...) }

// fields sorts by key so output is stable. Errors keep zap's error encoding.
func fields(f storecache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
