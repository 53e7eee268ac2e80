package datasource

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/rerr"
)

// SubprocessDataSource adapts one source's command templates (spec §6:
// "Source1 { create = ...; read = ...; update = ...; delete = ... }")
// into a DataSource. "%fk" in a template is substituted with the
// foreign key's opaque text; create and update pipe the document as
// JSON on stdin. Read's stdout is the document as JSON; create's stdout
// is the new foreign key's text; update's stdout, when it is bare text
// rather than a JSON object, is a changed foreign key. A non-zero exit
// is a DataSourceError (spec §6).
type SubprocessDataSource struct {
	Entity model.EntityName
	Source model.SourceName

	CreateCmd string
	ReadCmd   string
	UpdateCmd string
	DeleteCmd string

	// Deadline bounds every adaptor call (spec §5: "Each DataSource call
	// carries a per-source deadline from configuration").
	Deadline time.Duration

	// Run executes a shell command line and returns its stdout, or an
	// error if it exits non-zero. Defaults to runShell. Overridable for
	// tests.
	Run func(ctx context.Context, command string, stdin []byte) ([]byte, error)
}

func (s *SubprocessDataSource) run() func(ctx context.Context, command string, stdin []byte) ([]byte, error) {
	if s.Run != nil {
		return s.Run
	}
	return runShell
}

func runShell(ctx context.Context, command string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%q: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (s *SubprocessDataSource) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Deadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Deadline)
}

func substituteFK(template, fk string) string {
	return strings.ReplaceAll(template, "%fk", fk)
}

func (s *SubprocessDataSource) Create(ctx context.Context, doc *document.Document) (model.ForeignKey, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	in, err := doc.ToJSON(nil)
	if err != nil {
		return model.ForeignKey{}, rerr.Document("encoding document for create on %s: %w", s.Source, err)
	}
	out, err := s.run()(ctx, s.CreateCmd, in)
	if err != nil {
		return model.ForeignKey{}, rerr.DataSource(fmt.Errorf("create on %s: %w", s.Source, err))
	}
	return model.ForeignKey{Entity: s.Entity, Source: s.Source, Key: strings.TrimSpace(string(out))}, nil
}

func (s *SubprocessDataSource) Read(ctx context.Context, fk model.ForeignKey) (*document.Document, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	out, err := s.run()(ctx, substituteFK(s.ReadCmd, fk.Key), nil)
	if err != nil {
		return nil, rerr.DataSource(fmt.Errorf("read %s on %s: %w", fk, s.Source, err))
	}
	doc, err := document.FromJSON(out)
	if err != nil {
		return nil, rerr.Document("decoding read result for %s on %s: %w", fk, s.Source, err)
	}
	return doc, nil
}

func (s *SubprocessDataSource) Update(ctx context.Context, fk model.ForeignKey, doc *document.Document) (model.ForeignKey, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	in, err := doc.ToJSON(nil)
	if err != nil {
		return model.ForeignKey{}, rerr.Document("encoding document for update on %s: %w", s.Source, err)
	}
	out, err := s.run()(ctx, substituteFK(s.UpdateCmd, fk.Key), in)
	if err != nil {
		return model.ForeignKey{}, rerr.DataSource(fmt.Errorf("update %s on %s: %w", fk, s.Source, err))
	}
	// A JSON object on stdout is the adaptor echoing the document, not a
	// new key; only bare text replaces the foreign key.
	if newKey := strings.TrimSpace(string(out)); newKey != "" && !strings.HasPrefix(newKey, "{") {
		return model.ForeignKey{Entity: s.Entity, Source: s.Source, Key: newKey}, nil
	}
	return fk, nil
}

func (s *SubprocessDataSource) Delete(ctx context.Context, fk model.ForeignKey) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if _, err := s.run()(ctx, substituteFK(s.DeleteCmd, fk.Key), nil); err != nil {
		return rerr.DataSource(fmt.Errorf("delete %s on %s: %w", fk, s.Source, err))
	}
	return nil
}
