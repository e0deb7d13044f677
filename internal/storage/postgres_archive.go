package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/emergency-dispatch/internal/models"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) ArchiveRequest(r models.SOSRequest) error {
	var hospital, hospitalAddr string
	var distance sql.NullFloat64
	if r.Nearest != nil {
		hospital = r.Nearest.Name
		hospitalAddr = r.Nearest.Address
		distance = sql.NullFloat64{Float64: r.Nearest.DistanceKm, Valid: true}
	}
	_, err := p.db.Exec(`INSERT INTO sos_archive(sos_id, user_name, user_mobile, location, type, status, accepted_by, hospital, hospital_address, distance_km, created_at, accepted_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (sos_id) DO UPDATE SET status=EXCLUDED.status, accepted_by=EXCLUDED.accepted_by, hospital=EXCLUDED.hospital, completed_at=EXCLUDED.completed_at`,
		r.ID, r.UserName, r.UserMobile, r.Location, r.Type, string(r.Status), r.AcceptedBy, hospital, hospitalAddr, distance,
		r.CreatedAt, nullTime(r.AcceptedAt), nullTime(r.CompletedAt))
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
