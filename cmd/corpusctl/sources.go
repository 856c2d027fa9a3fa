package main

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/examfit/corpus/engine/source"
	"github.com/examfit/corpus/pkg/config"
)

// buildRegistry registers every enabled source of kind. NATS sources need
// nc and fail the build without it.
func buildRegistry(srcs config.Sources, kind string, nc *nats.Conn, logger *slog.Logger) (*source.Registry, error) {
	reg, _ := source.NewRegistry()
	for _, s := range srcs.Enabled(kind) {
		f, err := newFetcher(s, srcs, nc, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newFetcher(s config.Source, srcs config.Sources, nc *nats.Conn, logger *slog.Logger) (source.Fetcher, error) {
	switch s.Type {
	case config.SourceRSS:
		return source.NewRSS(s.Name, source.RSSConfig{URLs: s.URLs}, logger.With("source", s.Name)), nil
	case config.SourceFile:
		return source.NewFile(s.Name, s.Path, source.Kind(s.Kind)), nil
	case config.SourceNATS:
		if nc == nil {
			return nil, fmt.Errorf("source %s: nats.url is not configured", s.Name)
		}
		return source.NewNATS(s.Name, s.Subject, nc, srcs.Timeout.Std()), nil
	}
	return nil, fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
}
