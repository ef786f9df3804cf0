package encoder

import (
	"context"
	"strings"

	draptolib "github.com/five82/drapto"
)

// Library implements Encoder using the drapto Go library directly.
type Library struct{}

// NewLibrary constructs a Library backend.
func NewLibrary() *Library {
	return &Library{}
}

// Prepare checks the source and output directory.
func (l *Library) Prepare(ctx context.Context, req Request) error {
	return prepareFilesystem(ctx, req)
}

// Encode encodes req.Source with the drapto library.
func (l *Library) Encode(ctx context.Context, req Request, progress func(Update)) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	enc, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", err
	}

	var rep draptolib.Reporter
	var adapter *reporter
	if progress != nil {
		adapter = newReporter(progress)
		rep = adapter
	}

	if _, err := enc.EncodeWithReporter(ctx, req.Source, strings.TrimSpace(req.OutputDir), rep); err != nil {
		return "", err
	}
	if adapter != nil {
		if path := adapter.OutputPath(); path != "" {
			return path, nil
		}
	}
	return OutputPath(req.Source, req.OutputDir), nil
}

var _ Encoder = (*Library)(nil)
