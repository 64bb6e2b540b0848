package storage

// statefile.go — persistencia de estado crítico en JSON versionado.
//
// Estrategia:
//   - Escritura write-new-then-rename: nunca se trunca el fichero bueno.
//   - Rotación de generaciones (.bak1..N) antes de cada reemplazo.
//   - Recuperación en cadena al cargar: principal → .bak1 → ... → .bakN.
//   - Guardado idempotente: si los bytes no cambian, no se toca el disco
//     (ni se rotan generaciones).

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/polycopy/internal/adapters/onchain"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/risk"
)

var (
	// ErrCorrupt means no readable generation was found.
	ErrCorrupt = errors.New("storage: state file corrupt")
	// ErrVersion means the document's schema version is not ours.
	ErrVersion = errors.New("storage: unsupported state version")
	// ErrNotFound means neither the file nor any backup exists.
	ErrNotFound = errors.New("storage: state file not found")
)

const stateVersion = 1

// envelope envuelve cada documento con su versión de esquema. Sin campos
// temporales: el mismo estado produce exactamente los mismos bytes.
type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// FileStore persists the engine's crash-critical documents under one
// directory: risk_state.json, positions.json, scores.json and cursor.json.
type FileStore struct {
	dir         string
	generations int
}

// NewFileStore creates the directory if needed. generations is how many
// .bakN copies survive per document.
func NewFileStore(dir string, generations int) (*FileStore, error) {
	if generations <= 0 {
		generations = 3
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewFileStore: mkdir %q: %w", dir, err)
	}
	return &FileStore{dir: dir, generations: generations}, nil
}

func (f *FileStore) path(name string) string { return filepath.Join(f.dir, name) }

// save serializa, rota generaciones y renombra de forma atómica.
func (f *FileStore) save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage.save %s: marshal: %w", name, err)
	}
	env, err := json.MarshalIndent(envelope{Version: stateVersion, Data: data}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.save %s: marshal envelope: %w", name, err)
	}
	env = append(env, '\n')

	path := f.path(name)

	// Idempotencia: mismo contenido → cero I/O.
	if prev, err := os.ReadFile(path); err == nil && string(prev) == string(env) {
		return nil
	}

	if err := f.rotate(path); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, env, 0o644); err != nil {
		return fmt.Errorf("storage.save %s: write temp: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage.save %s: rename: %w", name, err)
	}
	return nil
}

// rotate desplaza las generaciones: fichero → .bak1 → .bak2 → ... → .bakN.
func (f *FileStore) rotate(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil // nada que rotar todavía
	}
	for i := f.generations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.bak%d", path, i)
		if _, err := os.Stat(from); err == nil {
			to := fmt.Sprintf("%s.bak%d", path, i+1)
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("storage.rotate: %s: %w", from, err)
			}
		}
	}
	// copia (no rename) para que el principal siga existiendo si el
	// proceso muere entre la rotación y el rename final
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("storage.rotate: read %s: %w", path, err)
	}
	if err := os.WriteFile(path+".bak1", data, 0o644); err != nil {
		return fmt.Errorf("storage.rotate: write bak1: %w", err)
	}
	return nil
}

// load intenta el principal y después cada generación, en orden.
func (f *FileStore) load(name string, out any) error {
	path := f.path(name)

	candidates := []string{path}
	for i := 1; i <= f.generations; i++ {
		candidates = append(candidates, fmt.Sprintf("%s.bak%d", path, i))
	}

	sawFile := false
	sawVersionErr := false
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		sawFile = true

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Version != stateVersion {
			sawVersionErr = true
			continue
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			continue
		}
		return nil
	}

	if !sawFile {
		return fmt.Errorf("storage.load %s: %w", name, ErrNotFound)
	}
	if sawVersionErr {
		return fmt.Errorf("storage.load %s: %w", name, ErrVersion)
	}
	return fmt.Errorf("storage.load %s: %w", name, ErrCorrupt)
}

const (
	riskFile      = "risk_state.json"
	positionsFile = "positions.json"
	scoresFile    = "scores.json"
	cursorFile    = "cursor.json"
)

// SaveRisk persists the risk guard scalars.
func (f *FileStore) SaveRisk(s risk.Snapshot) error { return f.save(riskFile, s) }

// LoadRisk loads the risk guard scalars.
func (f *FileStore) LoadRisk() (risk.Snapshot, error) {
	var s risk.Snapshot
	err := f.load(riskFile, &s)
	return s, err
}

// SavePositions persists the full position ledger, open and closed.
func (f *FileStore) SavePositions(ps []domain.Position) error { return f.save(positionsFile, ps) }

// LoadPositions loads the position ledger.
func (f *FileStore) LoadPositions() ([]domain.Position, error) {
	var ps []domain.Position
	err := f.load(positionsFile, &ps)
	return ps, err
}

// SaveScores persists the account score book.
func (f *FileStore) SaveScores(s map[string]domain.AccountScore) error { return f.save(scoresFile, s) }

// LoadScores loads the account score book.
func (f *FileStore) LoadScores() (map[string]domain.AccountScore, error) {
	var s map[string]domain.AccountScore
	err := f.load(scoresFile, &s)
	return s, err
}

// SaveCursor persists the on-chain watcher cursor.
func (f *FileStore) SaveCursor(c onchain.Cursor) error { return f.save(cursorFile, c) }

// LoadCursor loads the on-chain watcher cursor.
func (f *FileStore) LoadCursor() (onchain.Cursor, error) {
	var c onchain.Cursor
	err := f.load(cursorFile, &c)
	return c, err
}
