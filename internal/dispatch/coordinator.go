package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/ledger"
	"github.com/example/emergency-dispatch/internal/match"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/registry"
	"github.com/example/emergency-dispatch/internal/storage"
)

// Transport delivers outbound frames. Delivery is fire-and-forget: the
// coordinator never learns whether a frame arrived.
type Transport interface {
	Send(connID string, out models.Outbound)
	Broadcast(out models.Outbound)
}

// Auditor streams lifecycle events for offline analysis (Kafka in prod).
type Auditor interface {
	Publish(typ, sosID string, data any) error
}

// Biller holds, captures, and releases transport fees.
type Biller interface {
	Hold(ctx context.Context, amount int64, currency, ref string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// HospitalMirror mirrors hospital positions to an external geo index.
type HospitalMirror interface {
	Upsert(h models.Actor)
	Remove(connID string)
}

// Coordinator is the single owner of all dispatch state. Every mutating
// operation runs under one mutex; fan-out targets are computed from stable
// registry snapshots under the lock and delivered after it is released.
type Coordinator struct {
	Transport Transport
	Logger    *slog.Logger

	// Optional collaborators; all nil-safe and strictly best-effort.
	Audit     Auditor
	Archive   storage.Archive
	Biller    Biller
	Mirror    HospitalMirror
	ETAClient eta.Client

	DefaultSpeedMps float64
	TripFeeCents    int64
	Currency        string

	mu        sync.Mutex
	drivers   *registry.Registry
	hospitals *registry.Registry
	ledger    *ledger.Ledger
}

func New(t Transport, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Transport:       t,
		Logger:          logger,
		DefaultSpeedMps: 10,
		Currency:        "usd",
		drivers:         registry.New(),
		hospitals:       registry.New(),
		ledger:          ledger.New(),
	}
}

type delivery struct {
	connID string
	out    models.Outbound
}

// RegisterDriver adds or overwrites the driver record for connID and
// broadcasts the updated driver count to every live connection.
func (c *Coordinator) RegisterDriver(connID string, p models.RegisterDriverPayload) {
	c.mu.Lock()
	c.hospitals.Remove(connID) // one connection, one role; last registration wins
	a := c.drivers.Register(connID, models.Actor{
		Role:    models.RoleDriver,
		Name:    p.Name,
		License: p.AmbulanceLicense,
		Address: p.Address,
		Status:  "available",
	})
	count := c.drivers.Count()
	c.updateGauges()
	c.mu.Unlock()

	c.Transport.Send(connID, models.Outbound{Event: models.EvDriverRegistered, Data: a})
	c.Transport.Broadcast(models.Outbound{Event: models.EvDriverCountUpdate, Data: map[string]int{"count": count}})
	c.audit("driverRegistered", "", a)
	c.Logger.Info("driver registered", "conn_id", connID, "name", p.Name, "drivers", count)
}

// RegisterHospital adds or overwrites the hospital record for connID. The
// combined "lat,lng" field wins when present; a location that fails to parse
// leaves the coordinate nil, which excludes the hospital from ranking but
// keeps it a broadcast target. The reply carries all in-flight requests so a
// late-joining hospital catches up.
func (c *Coordinator) RegisterHospital(connID string, p models.RegisterHospitalPayload) {
	var coord *models.Coord
	if p.HospitalLocation != "" {
		if parsed, ok := geo.ParseLatLng(p.HospitalLocation); ok {
			coord = &parsed
		}
	} else if parsed, ok := geo.ParseLatLng(p.Lat + "," + p.Lng); ok {
		coord = &parsed
	}

	c.mu.Lock()
	c.drivers.Remove(connID)
	a := c.hospitals.Register(connID, models.Actor{
		Role:    models.RoleHospital,
		Name:    p.Name,
		Address: p.Address,
		Coord:   coord,
	})
	active := c.ledger.Active()
	c.updateGauges()
	c.mu.Unlock()

	c.Transport.Send(connID, models.Outbound{Event: models.EvHospitalRegistered, Data: map[string]any{
		"hospital": a,
		"requests": active,
	}})
	if c.Mirror != nil {
		c.Mirror.Upsert(a)
	}
	c.audit("hospitalRegistered", "", a)
	c.Logger.Info("hospital registered", "conn_id", connID, "name", p.Name, "has_coord", coord != nil)
}

// SubmitSOS records a new emergency and fans it out to every driver and
// hospital. A reused id is rejected back to the submitter only.
func (c *Coordinator) SubmitSOS(connID string, p models.SendSOSPayload) {
	c.mu.Lock()
	rec, err := c.ledger.Submit(p)
	if err != nil {
		c.mu.Unlock()
		c.Transport.Send(connID, models.Outbound{Event: models.EvSOSRejected, Data: map[string]string{
			"sosId":  p.SOSID,
			"reason": "duplicate sosId",
		}})
		c.Logger.Warn("sos rejected", "sos_id", p.SOSID, "error", err)
		return
	}
	outs := make([]delivery, 0, 8)
	for _, d := range c.drivers.Snapshot() {
		outs = append(outs, delivery{d.ConnID, models.Outbound{Event: models.EvReceiveSOS, Data: rec}})
	}
	for _, h := range c.hospitals.Snapshot() {
		outs = append(outs, delivery{h.ConnID, models.Outbound{Event: models.EvNewSOS, Data: rec}})
	}
	outs = append(outs, delivery{connID, models.Outbound{Event: models.EvSOSConfirmed, Data: rec}})
	c.mu.Unlock()

	c.deliver(outs)
	observability.SOSSubmitted.Inc()
	c.audit("sosSubmitted", rec.ID, rec)
	c.Logger.Info("sos submitted", "sos_id", rec.ID, "type", rec.Type)
}

// AcceptSOS moves a pending request to accepted for the calling driver.
// First valid acceptance wins; every failure is reported to the caller only.
// On success the nearest hospital is resolved once, from the hospital
// registry snapshot in registration order, and frozen on the record.
func (c *Coordinator) AcceptSOS(connID, sosID string) {
	c.mu.Lock()
	drv, isDriver := c.drivers.Get(connID)
	if !isDriver {
		c.mu.Unlock()
		c.failAccept(connID, sosID, "not a registered driver")
		return
	}
	cur, err := c.ledger.Get(sosID)
	if err != nil {
		c.mu.Unlock()
		c.failAccept(connID, sosID, "unknown sosId")
		return
	}

	var nearest *models.HospitalMatch
	origin, originOK := geo.ParseLatLng(cur.Location)
	if cur.Status == models.StatusPending && originOK {
		nearest = match.NearestHospital(c.hospitals.Snapshot(), origin)
	}

	rec, err := c.ledger.Transition(sosID, models.StatusPending, func(r *models.SOSRequest) {
		r.Status = models.StatusAccepted
		r.AcceptedBy = drv.Name
		r.AcceptedLicense = drv.License
		r.AcceptedConn = connID
		r.AcceptedAt = time.Now()
		r.Nearest = nearest
	})
	if err != nil {
		c.mu.Unlock()
		c.failAccept(connID, sosID, "already accepted or unavailable")
		return
	}

	outs := make([]delivery, 0, 4)
	notice := map[string]any{
		"sosId":      rec.ID,
		"acceptedBy": rec.AcceptedBy,
		"license":    rec.AcceptedLicense,
		"status":     rec.Status,
	}
	if nearest != nil {
		// The matched hospital gets a directed handoff notice in addition to
		// the general one below: "you are receiving this patient" and "this
		// request is no longer open" are different statements.
		outs = append(outs, delivery{nearest.ConnID, models.Outbound{Event: models.EvIncomingPatient, Data: rec}})
	}
	for _, h := range c.hospitals.Snapshot() {
		outs = append(outs, delivery{h.ConnID, models.Outbound{Event: models.EvSOSAccepted, Data: notice}})
	}
	c.mu.Unlock()

	// Travel-time estimate for the accepting driver, computed off the lock;
	// it decorates the reply only and is never stored on the record.
	driverOut := rec
	if nearest != nil && originOK {
		if h, ok := c.hospitals.Get(nearest.ConnID); ok && h.Coord != nil {
			m := *nearest
			m.EtaSeconds = c.travelSeconds(origin, *h.Coord)
			driverOut.Nearest = &m
		}
	}
	c.Transport.Send(connID, models.Outbound{Event: models.EvSOSAccepted, Data: driverOut})
	c.deliver(outs)

	observability.SOSAccepted.Inc()
	c.audit("sosAccepted", rec.ID, notice)
	c.Logger.Info("sos accepted", "sos_id", rec.ID, "driver", drv.Name, "hospital", hospitalName(nearest))

	if c.Biller != nil && c.TripFeeCents > 0 {
		go c.holdPayment(rec.ID, connID)
	}
}

// PatientArrived marks a request completed and tells every hospital. Status
// is deliberately not checked beyond existence: driver-reported arrival is
// best-effort and tolerated out of order.
func (c *Coordinator) PatientArrived(connID string, p models.PatientArrivedPayload) {
	c.mu.Lock()
	rec, err := c.ledger.Mutate(p.SOSID, func(r *models.SOSRequest) {
		r.Status = models.StatusCompleted
		r.CompletedAt = time.Now()
	})
	if err != nil {
		c.mu.Unlock()
		c.Logger.Warn("arrival for unknown request", "sos_id", p.SOSID, "conn_id", connID)
		return
	}
	hospital := p.Hospital
	if rec.Nearest != nil && rec.Nearest.Name != "" {
		hospital = rec.Nearest.Name
	}
	driverName := rec.AcceptedBy
	if driverName == "" {
		driverName = p.DriverName
	}
	outs := make([]delivery, 0, 4)
	for _, h := range c.hospitals.Snapshot() {
		outs = append(outs, delivery{h.ConnID, models.Outbound{Event: models.EvPatientArrivedOut, Data: map[string]string{
			"sosId":      rec.ID,
			"hospital":   hospital,
			"driverName": driverName,
		}}})
	}
	c.mu.Unlock()

	c.deliver(outs)
	observability.SOSCompleted.Inc()
	c.audit("patientArrived", rec.ID, map[string]string{"hospital": hospital, "driver": driverName})
	c.Logger.Info("patient arrived", "sos_id", rec.ID, "hospital", hospital)

	if c.Archive != nil {
		if err := c.Archive.ArchiveRequest(rec); err != nil {
			c.Logger.Warn("archive failed", "sos_id", rec.ID, "error", err)
		}
	}
	if c.Biller != nil && rec.PaymentRef != "" {
		go func() {
			if err := c.Biller.Capture(context.Background(), rec.PaymentRef); err != nil {
				c.Logger.Warn("payment capture failed", "sos_id", rec.ID, "error", err)
			}
		}()
	}
}

// Disconnect runs recovery for a closed connection: the actor record is
// dropped, and every request the connection had accepted reverts to pending
// and is re-offered to all drivers.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	_, wasDriver := c.drivers.Remove(connID)
	_, wasHospital := c.hospitals.Remove(connID)
	count := c.drivers.Count()
	reopened := c.ledger.ReleaseByConn(connID)

	outs := make([]delivery, 0, len(reopened)*2)
	if len(reopened) > 0 {
		drivers := c.drivers.Snapshot()
		for _, rec := range reopened {
			pub := rec
			pub.PaymentRef = ""
			for _, d := range drivers {
				outs = append(outs, delivery{d.ConnID, models.Outbound{Event: models.EvReceiveSOS, Data: pub}})
			}
		}
	}
	c.updateGauges()
	c.mu.Unlock()

	if wasDriver {
		c.Transport.Broadcast(models.Outbound{Event: models.EvDriverCountUpdate, Data: map[string]int{"count": count}})
	}
	if wasHospital && c.Mirror != nil {
		c.Mirror.Remove(connID)
	}
	c.deliver(outs)

	if n := len(reopened); n > 0 {
		observability.SOSReopened.Add(float64(n))
		for _, rec := range reopened {
			c.audit("sosReopened", rec.ID, nil)
			c.Logger.Info("acceptance reverted by disconnect", "sos_id", rec.ID, "conn_id", connID)
			if c.Biller != nil && rec.PaymentRef != "" {
				ref := rec.PaymentRef
				go func() {
					_ = c.Biller.Cancel(context.Background(), ref)
				}()
			}
		}
	}
	if wasDriver || wasHospital {
		c.Logger.Info("actor disconnected", "conn_id", connID, "was_driver", wasDriver, "drivers", count)
	}
}

// DriverCount reports the live driver registry size.
func (c *Coordinator) DriverCount() int { return c.drivers.Count() }

// HospitalCount reports the live hospital registry size.
func (c *Coordinator) HospitalCount() int { return c.hospitals.Count() }

func (c *Coordinator) failAccept(connID, sosID, reason string) {
	observability.SOSAcceptFailed.Inc()
	c.Transport.Send(connID, models.Outbound{Event: models.EvSOSAcceptFailed, Data: map[string]string{
		"sosId":  sosID,
		"reason": reason,
	}})
	c.Logger.Warn("accept failed", "sos_id", sosID, "conn_id", connID, "reason", reason)
}

func (c *Coordinator) deliver(outs []delivery) {
	for _, d := range outs {
		c.Transport.Send(d.connID, d.out)
	}
}

func (c *Coordinator) audit(typ, sosID string, data any) {
	if c.Audit == nil {
		return
	}
	go func() {
		_ = c.Audit.Publish(typ, sosID, data)
	}()
}

func (c *Coordinator) holdPayment(sosID, connID string) {
	ctx := context.Background()
	ref, err := c.Biller.Hold(ctx, c.TripFeeCents, c.Currency, sosID)
	if err != nil {
		c.Logger.Warn("payment hold failed", "sos_id", sosID, "error", err)
		return
	}
	stale := false
	_, err = c.ledger.Mutate(sosID, func(r *models.SOSRequest) {
		if r.Status == models.StatusAccepted && r.AcceptedConn == connID {
			r.PaymentRef = ref
		} else {
			stale = true
		}
	})
	if err != nil || stale {
		// acceptance was reverted or evicted while the hold was in flight
		_ = c.Biller.Cancel(ctx, ref)
	}
}

func (c *Coordinator) travelSeconds(from, to models.Coord) float64 {
	if c.ETAClient != nil {
		if v, err := c.ETAClient.EstimateSeconds(from, to); err == nil {
			return v
		}
	}
	return eta.EstimateSeconds(from, to, c.DefaultSpeedMps)
}

func (c *Coordinator) updateGauges() {
	observability.DriversConnected.Set(float64(c.drivers.Count()))
	observability.HospitalsConnected.Set(float64(c.hospitals.Count()))
}

func hospitalName(m *models.HospitalMatch) string {
	if m == nil {
		return ""
	}
	return m.Name
}
