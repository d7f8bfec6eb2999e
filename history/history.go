// Package history records training runs, their per epoch stats and final report in a sqlite database.
package history

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jnb666/cifarnet/nnet"
	"github.com/jnb666/cifarnet/report"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	started  INTEGER NOT NULL,
	finished INTEGER NOT NULL DEFAULT 0,
	config   TEXT NOT NULL,
	accuracy REAL NOT NULL DEFAULT 0,
	report   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS epochs (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	epoch      INTEGER NOT NULL,
	train_loss REAL, train_acc REAL,
	valid_loss REAL, valid_acc REAL, valid_avg REAL,
	best_since INTEGER,
	elapsed    INTEGER,
	PRIMARY KEY (run_id, epoch)
);`

// Store is a handle to the history database.
type Store struct {
	db *sql.DB
}

// Run is a summary of one training run. Finished is zero if the run did not complete.
type Run struct {
	ID       int64
	Started  time.Time
	Finished time.Time
	Config   nnet.Config
	Accuracy float64
	Report   string
	Epochs   int
}

// Open the database file, creating the tables if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "history")
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "history: init %s", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun adds a new run with the given config and returns its id.
func (s *Store) StartRun(conf nnet.Config) (int64, error) {
	data, err := json.Marshal(conf)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT INTO runs (started, config) VALUES (?, ?)`, time.Now().UnixNano(), string(data))
	if err != nil {
		return 0, errors.Wrap(err, "history: start run")
	}
	return res.LastInsertId()
}

// AddEpoch saves the stats for one epoch.
func (s *Store) AddEpoch(runID int64, st nnet.Stats) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO epochs
		(run_id, epoch, train_loss, train_acc, valid_loss, valid_acc, valid_avg, best_since, elapsed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, st.Epoch, st.TrainLoss, st.TrainAcc, st.ValidLoss, st.ValidAcc, st.ValidAvg, st.BestSince, int64(st.Elapsed))
	return errors.Wrapf(err, "history: run %d epoch %d", runID, st.Epoch)
}

// Tester returns a tester which saves the stats after each epoch.
func (s *Store) Tester(runID int64) nnet.Tester {
	return nnet.TestFunc(func(net *nnet.Network, st nnet.Stats) error {
		return s.AddEpoch(runID, st)
	})
}

// Finish marks the run as complete and saves the final test report.
func (s *Store) Finish(runID int64, r *report.Report) error {
	res, err := s.db.Exec(`UPDATE runs SET finished = ?, accuracy = ?, report = ? WHERE id = ?`,
		time.Now().UnixNano(), r.Accuracy, r.String(), runID)
	if err != nil {
		return errors.Wrapf(err, "history: finish run %d", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("history: run %d not found", runID)
	}
	return nil
}

// Runs lists all runs, most recent first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT r.id, r.started, r.finished, r.config, r.accuracy, r.report,
		(SELECT COUNT(*) FROM epochs e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "history: runs")
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		var conf string
		if err = rows.Scan(&r.ID, &started, &finished, &conf, &r.Accuracy, &r.Report, &r.Epochs); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started)
		if finished != 0 {
			r.Finished = time.Unix(0, finished)
		}
		if err = json.Unmarshal([]byte(conf), &r.Config); err != nil {
			return nil, errors.Wrapf(err, "history: run %d config", r.ID)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Epochs returns the saved stats for a run in epoch order.
func (s *Store) Epochs(runID int64) ([]nnet.Stats, error) {
	rows, err := s.db.Query(`SELECT epoch, train_loss, train_acc, valid_loss, valid_acc, valid_avg, best_since, elapsed
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "history: run %d epochs", runID)
	}
	defer rows.Close()
	var stats []nnet.Stats
	for rows.Next() {
		var st nnet.Stats
		var elapsed int64
		if err = rows.Scan(&st.Epoch, &st.TrainLoss, &st.TrainAcc, &st.ValidLoss, &st.ValidAcc, &st.ValidAvg, &st.BestSince, &elapsed); err != nil {
			return nil, err
		}
		st.Elapsed = time.Duration(elapsed)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
