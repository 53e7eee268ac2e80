// Package config loads retcond's configuration file: the small
// nested-block grammar of spec §6 (not YAML, not HCL proper) with
// `$(var)` interpolation of previously-defined scalars from the
// server block and the top-level "base" key.
//
// No example repo in this codebase family parses this exact grammar —
// the teacher uses ghodss/yaml for Kong's declarative config, a
// different, YAML-based format entirely — so this is a small
// hand-written recursive-descent parser over the standard library's
// text/scanner, the one ambient component in this repo built on the
// standard library rather than a pack-supplied parsing library.
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"text/scanner"

	"github.com/kong/retcon/pkg/model"
)

// ServerConfig is the "server { ... }" block of spec §6.
type ServerConfig struct {
	Listen   string
	LogLevel string
	Database string
}

// SourceConfig is one "Source1 { create = ...; ... }" block: the
// adaptor command templates spec §6 describes ("%fk" placeholder,
// JSON over stdin/stdout, non-zero exit is a DataSourceError).
type SourceConfig struct {
	Create string
	Read   string
	Update string
	Delete string
}

// EntityConfig is one "Entity1 { merge-policy = ...; enabled = [...]; ... }"
// block.
type EntityConfig struct {
	MergePolicy string
	Sources     map[model.SourceName]*SourceConfig
	SourceOrder []model.SourceName
}

// Config is the fully parsed retcond.conf.
type Config struct {
	Server      ServerConfig
	Base        string
	Entities    map[model.EntityName]*EntityConfig
	EntityOrder []model.EntityName
}

// LoadFile opens and parses path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads the grammar of spec §6 from r. filename is used only for
// error positions.
func Parse(r io.Reader, filename string) (*Config, error) {
	p := newParser(r, filename)
	vars := map[string]string{}
	cfg := &Config{Entities: map[model.EntityName]*EntityConfig{}}

	for {
		p.skipSeparators()
		tok, _ := p.peek()
		if tok == scanner.EOF {
			break
		}
		key, err := p.readIdent()
		if err != nil {
			return nil, err
		}
		switch key {
		case "server":
			if err := p.expect('{'); err != nil {
				return nil, err
			}
			if err := p.parseServerBlock(&cfg.Server, vars); err != nil {
				return nil, err
			}
		case "base":
			if err := p.expect('='); err != nil {
				return nil, err
			}
			v, err := p.readInterpolatedString(vars)
			if err != nil {
				return nil, err
			}
			cfg.Base = v
			vars["base"] = v
		case "entities":
			if err := p.expect('{'); err != nil {
				return nil, err
			}
			if err := p.parseEntitiesBlock(cfg, vars); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown top-level key %q", key)
		}
	}
	return cfg, nil
}

func (p *parser) parseServerBlock(s *ServerConfig, vars map[string]string) error {
	for {
		p.skipSeparators()
		tok, _ := p.peek()
		if tok == '}' {
			p.next()
			return nil
		}
		key, err := p.readIdent()
		if err != nil {
			return err
		}
		if err := p.expect('='); err != nil {
			return err
		}
		v, err := p.readInterpolatedString(vars)
		if err != nil {
			return err
		}
		switch key {
		case "listen":
			s.Listen = v
		case "log-level":
			s.LogLevel = v
		case "database":
			s.Database = v
		default:
			return p.errf("unknown server key %q", key)
		}
		vars[key] = v
	}
}

func (p *parser) parseEntitiesBlock(cfg *Config, vars map[string]string) error {
	var enabled []string
	for {
		p.skipSeparators()
		tok, _ := p.peek()
		if tok == '}' {
			p.next()
			break
		}
		key, err := p.readIdent()
		if err != nil {
			return err
		}
		if key == "enabled" {
			if err := p.expect('='); err != nil {
				return err
			}
			enabled, err = p.readList()
			if err != nil {
				return err
			}
			continue
		}
		if err := p.expect('{'); err != nil {
			return err
		}
		ec, err := p.parseEntityBlock(vars)
		if err != nil {
			return err
		}
		cfg.Entities[model.EntityName(key)] = ec
	}

	for _, name := range enabled {
		en := model.EntityName(name)
		if _, ok := cfg.Entities[en]; !ok {
			return p.errf("entity %q is enabled but has no block", name)
		}
		cfg.EntityOrder = append(cfg.EntityOrder, en)
	}
	return nil
}

func (p *parser) parseEntityBlock(vars map[string]string) (*EntityConfig, error) {
	ec := &EntityConfig{Sources: map[model.SourceName]*SourceConfig{}}
	var enabled []string
	for {
		p.skipSeparators()
		tok, _ := p.peek()
		if tok == '}' {
			p.next()
			break
		}
		key, err := p.readIdent()
		if err != nil {
			return nil, err
		}
		switch key {
		case "merge-policy":
			if err := p.expect('='); err != nil {
				return nil, err
			}
			v, err := p.readInterpolatedString(vars)
			if err != nil {
				return nil, err
			}
			ec.MergePolicy = v
		case "enabled":
			if err := p.expect('='); err != nil {
				return nil, err
			}
			enabled, err = p.readList()
			if err != nil {
				return nil, err
			}
		default:
			if err := p.expect('{'); err != nil {
				return nil, err
			}
			sc, err := p.parseSourceBlock(vars)
			if err != nil {
				return nil, err
			}
			ec.Sources[model.SourceName(key)] = sc
		}
	}

	for _, name := range enabled {
		sn := model.SourceName(name)
		if _, ok := ec.Sources[sn]; !ok {
			return nil, p.errf("source %q is enabled but has no block", name)
		}
		ec.SourceOrder = append(ec.SourceOrder, sn)
	}
	if ec.MergePolicy == "" {
		return nil, p.errf("entity block is missing \"merge-policy\"")
	}
	return ec, nil
}

func (p *parser) parseSourceBlock(vars map[string]string) (*SourceConfig, error) {
	sc := &SourceConfig{}
	for {
		p.skipSeparators()
		tok, _ := p.peek()
		if tok == '}' {
			p.next()
			return sc, nil
		}
		key, err := p.readIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expect('='); err != nil {
			return nil, err
		}
		v, err := p.readInterpolatedString(vars)
		if err != nil {
			return nil, err
		}
		switch key {
		case "create":
			sc.Create = v
		case "read":
			sc.Read = v
		case "update":
			sc.Update = v
		case "delete":
			sc.Delete = v
		default:
			return nil, p.errf("unknown source key %q", key)
		}
	}
}

var varRef = regexp.MustCompile(`\$\(([A-Za-z0-9_-]+)\)`)

// interpolate substitutes every "$(name)" in s with vars[name]; it
// errors if name was never defined (spec §6: "interpolation over
// previously-defined scalars").
func interpolate(s string, vars map[string]string) (string, error) {
	var missing string
	out := varRef.ReplaceAllStringFunc(s, func(m string) string {
		name := varRef.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = name
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("undefined variable %q", missing)
	}
	return out, nil
}

// parser is a one-token-lookahead wrapper around text/scanner.Scanner,
// since the grammar's hyphenated keys ("log-level", "merge-policy")
// aren't single scanner.Ident tokens.
type parser struct {
	sc       scanner.Scanner
	filename string
	havePeek bool
	peekTok  rune
	peekText string
}

func newParser(r io.Reader, filename string) *parser {
	p := &parser{filename: filename}
	p.sc.Init(r)
	p.sc.Filename = filename
	p.sc.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	return p
}

func (p *parser) next() (rune, string) {
	if p.havePeek {
		p.havePeek = false
		return p.peekTok, p.peekText
	}
	tok := p.sc.Scan()
	return tok, p.sc.TokenText()
}

func (p *parser) peek() (rune, string) {
	if !p.havePeek {
		p.peekTok = p.sc.Scan()
		p.peekText = p.sc.TokenText()
		p.havePeek = true
	}
	return p.peekTok, p.peekText
}

func (p *parser) skipSeparators() {
	for {
		tok, _ := p.peek()
		if tok != ';' {
			return
		}
		p.next()
	}
}

func (p *parser) expect(r rune) error {
	tok, text := p.next()
	if tok != r {
		return p.errf("expected %q, got %q", string(r), text)
	}
	return nil
}

// readIdent reads a compound, possibly hyphenated identifier such as
// "log-level" or "merge-policy".
func (p *parser) readIdent() (string, error) {
	tok, text := p.next()
	if tok != scanner.Ident {
		return "", p.errf("expected identifier, got %q", text)
	}
	name := text
	for {
		tok2, _ := p.peek()
		if tok2 != '-' {
			return name, nil
		}
		p.next()
		tok3, text3 := p.next()
		if tok3 != scanner.Ident {
			return "", p.errf("expected identifier after '-' in %q", name)
		}
		name += "-" + text3
	}
}

func (p *parser) readString() (string, error) {
	tok, text := p.next()
	if tok != scanner.String {
		return "", p.errf("expected string, got %q", text)
	}
	s, err := strconv.Unquote(text)
	if err != nil {
		return "", p.errf("invalid string literal %s: %w", text, err)
	}
	return s, nil
}

func (p *parser) readInterpolatedString(vars map[string]string) (string, error) {
	s, err := p.readString()
	if err != nil {
		return "", err
	}
	return interpolate(s, vars)
}

func (p *parser) readList() ([]string, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	var out []string
	for {
		tok, _ := p.peek()
		if tok == ']' {
			p.next()
			return out, nil
		}
		s, err := p.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		tok2, _ := p.peek()
		if tok2 == ',' {
			p.next()
		}
	}
}

func (p *parser) errf(format string, a ...any) error {
	return fmt.Errorf("%s: %s", p.sc.Pos(), fmt.Sprintf(format, a...))
}
