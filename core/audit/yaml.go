package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/agendabot/core/flow"

	"gopkg.in/yaml.v3"
)

const (
	estadoActiva     = "activa"
	estadoCompletada = "completada"
	estadoCerrada    = "cerrada"

	resultadoReserva = "reserva_confirmada"
)

type transcript struct {
	Conversacion header    `yaml:"conversacion"`
	Usuario      usuario   `yaml:"usuario"`
	Mensajes     []mensaje `yaml:"mensajes"`
	Resumen      resumen   `yaml:"resumen"`
}

type header struct {
	ID          string `yaml:"id"`
	Canal       string `yaml:"canal,omitempty"`
	FechaInicio string `yaml:"fecha_inicio"`
	FechaFin    string `yaml:"fecha_fin,omitempty"`
	Estado      string `yaml:"estado"`
	Outcome     string `yaml:"outcome,omitempty"`
}

type usuario struct {
	Telefono string `yaml:"telefono"`
}

type mensaje struct {
	TS        string `yaml:"ts"`
	Direccion string `yaml:"direccion"`
	Tipo      string `yaml:"tipo"`
	Contenido string `yaml:"contenido"`
}

type resumen struct {
	TotalMensajes       int    `yaml:"total_mensajes"`
	Reservas            int    `yaml:"reservas"`
	AgendamientoExitoso bool   `yaml:"agendamiento_exitoso"`
	Resultado           string `yaml:"resultado,omitempty"`
}

type openTranscript struct {
	path    string
	started time.Time
	data    transcript
}

// YAMLSink writes one transcript file per user and conversation start under
// {dir}/{YYYY-MM-DD}/{user_key}_{HHMMSS}.yaml. The whole file is rewritten on
// every record.
type YAMLSink struct {
	dir string
	loc *time.Location

	mu   sync.Mutex
	open map[string]*openTranscript
}

// NewYAMLSink stores transcripts below dir, stamping times in loc (UTC when nil).
func NewYAMLSink(dir string, loc *time.Location) (*YAMLSink, error) {
	if dir == "" {
		return nil, errors.New("audit: empty transcript dir")
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create transcript dir: %w", err)
	}
	return &YAMLSink{dir: dir, loc: loc, open: make(map[string]*openTranscript)}, nil
}

// Name implements Sink.
func (s *YAMLSink) Name() string { return "yaml" }

// Write implements Sink.
func (s *YAMLSink) Write(_ context.Context, rec Record) error {
	if rec.UserKey == "" {
		return errors.New("audit: record without user key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.resolve(rec)
	if err != nil || cur == nil {
		return err
	}

	next := cur.data
	next.Mensajes = slices.Clone(cur.data.Mensajes)
	if next.Conversacion.Canal == "" {
		next.Conversacion.Canal = rec.Channel
	}
	at := rec.At.In(s.loc)
	if rec.IsOutcome() {
		applyOutcome(&next, rec.Outcome, at)
	} else {
		next.Mensajes = append(next.Mensajes, mensaje{
			TS:        at.Format(time.TimeOnly),
			Direccion: string(rec.Direction),
			Tipo:      rec.Kind,
			Contenido: rec.Content,
		})
		next.Resumen.TotalMensajes++
	}

	if err := writeTranscript(cur.path, next); err != nil {
		return err
	}
	cur.data = next
	return nil
}

// resolve returns the transcript rec belongs to, opening a new one when the
// conversation start changed. Outcomes with no open transcript are dropped.
func (s *YAMLSink) resolve(rec Record) (*openTranscript, error) {
	cur := s.open[rec.UserKey]
	switch {
	case cur != nil && (rec.StartedAt.IsZero() || cur.started.Equal(rec.StartedAt)):
		return cur, nil
	case rec.StartedAt.IsZero() && rec.IsOutcome():
		return nil, nil
	}

	started := rec.StartedAt
	if started.IsZero() {
		started = rec.At
	}
	s.prune(started)

	local := started.In(s.loc)
	path := filepath.Join(s.dir, local.Format(time.DateOnly),
		fmt.Sprintf("%s_%s.yaml", rec.UserKey, local.Format("150405")))
	t := &openTranscript{path: path, started: started}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &t.data); err != nil {
			return nil, fmt.Errorf("audit: parse transcript %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		t.data = transcript{
			Conversacion: header{
				ID:          fmt.Sprintf("%s-%d", rec.UserKey, started.Unix()),
				Canal:       rec.Channel,
				FechaInicio: local.Format(time.DateTime),
				Estado:      estadoActiva,
			},
			Usuario:  usuario{Telefono: rec.UserKey},
			Mensajes: []mensaje{},
		}
	default:
		return nil, fmt.Errorf("audit: read transcript: %w", err)
	}
	s.open[rec.UserKey] = t
	return t, nil
}

// prune forgets transcripts opened more than two days before now.
func (s *YAMLSink) prune(now time.Time) {
	for key, t := range s.open {
		if now.Sub(t.started) > 48*time.Hour {
			delete(s.open, key)
		}
	}
}

func applyOutcome(t *transcript, outcome string, at time.Time) {
	t.Conversacion.Outcome = outcome
	switch outcome {
	case string(flow.OutcomeBooked):
		t.Resumen.Reservas++
		t.Resumen.AgendamientoExitoso = true
		t.Resumen.Resultado = resultadoReserva
		t.Conversacion.Estado = estadoCompletada
	default:
		if !closes(outcome) {
			return
		}
		t.Conversacion.FechaFin = at.Format(time.DateTime)
		if t.Conversacion.Estado == estadoActiva {
			t.Conversacion.Estado = estadoCerrada
		}
	}
}

func writeTranscript(path string, t transcript) error {
	out, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("audit: encode transcript: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audit: create transcript dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("audit: write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("audit: replace transcript: %w", err)
	}
	return nil
}
