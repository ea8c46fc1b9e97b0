package cisd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the persisted form of a ledger. Every section keeps its text
// encoding so the file stays readable by older tools.
type State struct {
	Data      string    `json:"data"`
	WCData    string    `json:"wcData"`
	PowerData string    `json:"powerData"`
	CableData string    `json:"cableData"`
	TXData    string    `json:"txData"`
	EventData string    `json:"eventData"`
	SavedAt   time.Time `json:"savedAt"`
}

// State exports the ledger.
func (l *Ledger) State() State {
	return State{
		Data:      l.DataText(),
		WCData:    l.PadText(),
		PowerData: l.PowerText(),
		CableData: l.CableText(),
		TXData:    l.TXText(),
		EventData: l.EventText(),
		SavedAt:   time.Now(),
	}
}

// Apply restores every section of s. A malformed section is reset on its own
// and does not prevent the others from loading; the first error is returned.
func (l *Ledger) Apply(s State) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(l.RestoreData(s.Data))
	keep(l.RestorePads(s.WCData))
	keep(l.RestorePower(s.PowerData))
	keep(l.RestoreCable(s.CableData))
	keep(l.RestoreTX(s.TXData))
	keep(l.RestoreEvent(s.EventData))

	return first
}

// Store persists a ledger to a JSON file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load restores l from the store. A missing file leaves l untouched.
func (s *Store) Load(l *Ledger) error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", s.path).Info("no persisted cisd ledger, starting fresh")
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read cisd ledger %s", s.path)
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		l.Reset()
		return pkgerrors.Wrapf(err, "failed to unmarshal cisd ledger %s", s.path)
	}

	if err := l.Apply(st); err != nil {
		return pkgerrors.Wrapf(err, "cisd ledger %s partially reset", s.path)
	}

	logrus.WithFields(logrus.Fields{
		"path":    s.path,
		"savedAt": st.SavedAt.Format(time.RFC3339),
	}).Info("cisd ledger loaded")

	return nil
}

// Save writes l to the store through a temporary file and a rename.
func (s *Store) Save(l *Ledger) error {
	b, err := json.MarshalIndent(l.State(), "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to marshal cisd ledger")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temporary file in %s", dir)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return pkgerrors.Wrapf(err, "failed to rename %s to %s", tmp.Name(), s.path)
	}

	logrus.WithField("path", s.path).Debug("cisd ledger saved")
	return nil
}
