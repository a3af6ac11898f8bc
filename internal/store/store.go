// Package store keeps pattern tables in a SQLite catalogue so several
// datasets can be compressed once and loaded by id.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/population"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	markers_are_dominant INTEGER NOT NULL,
	genotypes_are_diploid INTEGER NOT NULL,
	patterns_are_folded INTEGER NOT NULL,
	constant_sites_removed INTEGER NOT NULL,
	missing_sites_removed INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS populations (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);
CREATE TABLE IF NOT EXISTS sequences (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	population_idx INTEGER NOT NULL,
	position INTEGER NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (dataset_id, population_idx, position)
);
CREATE TABLE IF NOT EXISTS patterns (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	allele_counts TEXT NOT NULL,
	red_allele_counts TEXT NOT NULL,
	weight INTEGER NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);
`

// Store is an open catalogue.
type Store struct {
	DB *sqlx.DB
}

// Dataset describes one stored table.
type Dataset struct {
	ID                   string `db:"id"`
	Path                 string `db:"path"`
	MarkersAreDominant   bool   `db:"markers_are_dominant"`
	GenotypesAreDiploid  bool   `db:"genotypes_are_diploid"`
	PatternsAreFolded    bool   `db:"patterns_are_folded"`
	ConstantSitesRemoved int64  `db:"constant_sites_removed"`
	MissingSitesRemoved  int64  `db:"missing_sites_removed"`
	CreatedAt            string `db:"created_at"`
	NumPopulations       int    `db:"num_populations"`
	NumPatterns          int    `db:"num_patterns"`
}

// Open opens or creates the catalogue at path.
func Open(path string) (*Store, error) {
	// URI filenames have to begin with 'file:'.
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	// One connection keeps the foreign_keys pragma in effect for every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, pfx.Err(fmt.Errorf("unable to set pragmas: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, pfx.Err(fmt.Errorf("creating schema: %w", err))
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func formatCounts(counts []uint32) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.FormatUint(uint64(c), 10)
	}
	return strings.Join(parts, " ")
}

func parseCounts(s string) ([]uint32, error) {
	fields := strings.Fields(s)
	counts := make([]uint32, len(fields))
	for i, f := range fields {
		c, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, errs.Parsing("bad count %q: %v", f, err)
		}
		counts[i] = uint32(c)
	}
	return counts, nil
}

// Save stores d under a new id and returns it.
func (s *Store) Save(d *biallelic.Data) (string, error) {
	ds := Dataset{
		ID:                   uuid.New().String(),
		Path:                 d.Path(),
		MarkersAreDominant:   d.MarkersAreDominant(),
		GenotypesAreDiploid:  d.GenotypesAreDiploid(),
		PatternsAreFolded:    d.PatternsAreFolded(),
		ConstantSitesRemoved: int64(d.ConstantSitesRemoved()), //nolint:gosec // site counts fit in int64
		MissingSitesRemoved:  int64(d.MissingSitesRemoved()),  //nolint:gosec // site counts fit in int64
		CreatedAt:            time.Now().UTC().Format(time.RFC3339Nano),
	}

	tx, err := s.DB.Beginx()
	if err != nil {
		return "", pfx.Err(err)
	}
	if err := saveTx(tx, &ds, d); err != nil {
		_ = tx.Rollback()
		return "", pfx.Err(err)
	}
	if err := tx.Commit(); err != nil {
		return "", pfx.Err(err)
	}
	return ds.ID, nil
}

func saveTx(tx *sqlx.Tx, ds *Dataset, d *biallelic.Data) error {
	_, err := tx.NamedExec(`INSERT INTO datasets
		(id, path, markers_are_dominant, genotypes_are_diploid, patterns_are_folded,
		 constant_sites_removed, missing_sites_removed, created_at)
		VALUES (:id, :path, :markers_are_dominant, :genotypes_are_diploid, :patterns_are_folded,
		 :constant_sites_removed, :missing_sites_removed, :created_at)`, ds)
	if err != nil {
		return fmt.Errorf("inserting dataset: %w", err)
	}

	for _, pop := range d.Populations() {
		if _, err := tx.Exec(`INSERT INTO populations (dataset_id, idx, label) VALUES (?, ?, ?)`,
			ds.ID, pop.Index, pop.Label); err != nil {
			return fmt.Errorf("inserting population %q: %w", pop.Label, err)
		}
		for pos, label := range pop.SequenceLabels {
			if _, err := tx.Exec(`INSERT INTO sequences (dataset_id, population_idx, position, label) VALUES (?, ?, ?, ?)`,
				ds.ID, pop.Index, pos, label); err != nil {
				return fmt.Errorf("inserting sequence %q: %w", label, err)
			}
		}
	}

	stmt, err := tx.Preparex(`INSERT INTO patterns (dataset_id, idx, allele_counts, red_allele_counts, weight) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck // statement close during cleanup

	for i := range d.NumPatterns() {
		alleles, err := d.AlleleCounts(i)
		if err != nil {
			return err
		}
		red, err := d.RedAlleleCounts(i)
		if err != nil {
			return err
		}
		weight, err := d.PatternWeight(i)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(ds.ID, i, formatCounts(alleles), formatCounts(red), int64(weight)); err != nil {
			return fmt.Errorf("inserting pattern %d: %w", i, err)
		}
	}
	return nil
}

const listQuery = `SELECT d.*,
	(SELECT COUNT(*) FROM populations p WHERE p.dataset_id = d.id) AS num_populations,
	(SELECT COUNT(*) FROM patterns t WHERE t.dataset_id = d.id) AS num_patterns
	FROM datasets d`

// List returns every stored dataset, oldest first.
func (s *Store) List() ([]Dataset, error) {
	var out []Dataset
	if err := s.DB.Select(&out, listQuery+` ORDER BY d.created_at, d.id`); err != nil {
		return nil, pfx.Err(err)
	}
	return out, nil
}

// Get returns the description of dataset id.
func (s *Store) Get(id string) (*Dataset, error) {
	var ds Dataset
	err := s.DB.Get(&ds, listQuery+` WHERE d.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.OutOfRange("unknown dataset %q", id)
	}
	if err != nil {
		return nil, pfx.Err(err)
	}
	return &ds, nil
}

type populationRow struct {
	Idx   int    `db:"idx"`
	Label string `db:"label"`
}

type sequenceRow struct {
	PopulationIdx int    `db:"population_idx"`
	Label         string `db:"label"`
}

type patternRow struct {
	AlleleCounts    string `db:"allele_counts"`
	RedAlleleCounts string `db:"red_allele_counts"`
	Weight          int64  `db:"weight"`
}

// Load rebuilds dataset id. The result is validated.
func (s *Store) Load(id string) (*biallelic.Data, error) {
	ds, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	var pops []populationRow
	if err := s.DB.Select(&pops, `SELECT idx, label FROM populations WHERE dataset_id = ? ORDER BY idx`, id); err != nil {
		return nil, pfx.Err(err)
	}
	var seqs []sequenceRow
	if err := s.DB.Select(&seqs, `SELECT population_idx, label FROM sequences WHERE dataset_id = ? ORDER BY population_idx, position`, id); err != nil {
		return nil, pfx.Err(err)
	}
	var rows []patternRow
	if err := s.DB.Select(&rows, `SELECT allele_counts, red_allele_counts, weight FROM patterns WHERE dataset_id = ? ORDER BY idx`, id); err != nil {
		return nil, pfx.Err(err)
	}

	index := population.NewIndex(' ', true)
	for _, p := range pops {
		if got := index.AddPopulation(p.Label); got != p.Idx {
			return nil, errs.WithPath(errs.Parsing("population %q stored at %d, expected %d", p.Label, p.Idx, got), ds.Path)
		}
	}
	for _, sq := range seqs {
		if err := index.Assign(sq.Label, sq.PopulationIdx); err != nil {
			return nil, errs.WithPath(err, ds.Path)
		}
	}

	b := biallelic.NewBuilder(ds.Path, encoder.NewEncoding(ds.MarkersAreDominant, ds.GenotypesAreDiploid), index)
	b.SetFolded(ds.PatternsAreFolded)
	b.SetSitesRemoved(uint64(ds.ConstantSitesRemoved), uint64(ds.MissingSitesRemoved)) //nolint:gosec // stored from uint64
	for _, row := range rows {
		alleles, err := parseCounts(row.AlleleCounts)
		if err != nil {
			return nil, errs.WithPath(err, ds.Path)
		}
		red, err := parseCounts(row.RedAlleleCounts)
		if err != nil {
			return nil, errs.WithPath(err, ds.Path)
		}
		if row.Weight < 0 || row.Weight > math.MaxUint32 {
			return nil, errs.WithPath(errs.Parsing("pattern weight %d out of range", row.Weight), ds.Path)
		}
		if _, err := b.AddPattern(alleles, red, uint32(row.Weight)); err != nil {
			return nil, err
		}
	}

	d := b.Build()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes dataset id and everything stored with it.
func (s *Store) Delete(id string) error {
	res, err := s.DB.Exec(`DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return pfx.Err(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pfx.Err(err)
	}
	if n == 0 {
		return errs.OutOfRange("unknown dataset %q", id)
	}
	return nil
}
