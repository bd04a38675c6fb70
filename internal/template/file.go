package template

import (
	"context"

	"go.uber.org/zap"
)

// FileProvider serves templates from a YAML catalog on disk and can reload it.
type FileProvider struct {
	*StaticProvider
	path   string
	logger *zap.Logger
}

func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	templates, err := LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	static, err := NewStaticProvider(templates...)
	if err != nil {
		return nil, err
	}

	logger.Info("template catalog loaded",
		zap.String("path", path),
		zap.Int("templates", len(templates)),
	)

	return &FileProvider{StaticProvider: static, path: path, logger: logger}, nil
}

// Reload re-reads the catalog. On error the previous templates stay active.
func (p *FileProvider) Reload(_ context.Context) error {
	templates, err := LoadCatalogFile(p.path)
	if err != nil {
		p.logger.Error("template catalog reload failed", zap.String("path", p.path), zap.Error(err))
		return err
	}
	if err := p.replace(templates); err != nil {
		p.logger.Error("template catalog rejected", zap.String("path", p.path), zap.Error(err))
		return err
	}

	p.logger.Info("template catalog reloaded", zap.String("path", p.path), zap.Int("templates", len(templates)))
	return nil
}
