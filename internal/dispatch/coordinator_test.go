package dispatch

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// fakeTransport records every delivery for assertions.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []sentFrame
	broadcasts []models.Outbound
}

type sentFrame struct {
	connID string
	out    models.Outbound
}

func (f *fakeTransport) Send(connID string, out models.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{connID, out})
}

func (f *fakeTransport) Broadcast(out models.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, out)
}

func (f *fakeTransport) framesTo(connID, event string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, s := range f.sent {
		if s.connID == connID && s.out.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) lastBroadcast(event string) (models.Outbound, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.broadcasts) - 1; i >= 0; i-- {
		if f.broadcasts[i].Event == event {
			return f.broadcasts[i], true
		}
	}
	return models.Outbound{}, false
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.broadcasts = nil
}

func newTestCoordinator() (*Coordinator, *fakeTransport) {
	ft := &fakeTransport{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ft, logger), ft
}

func TestDriverCountUpdateTracksRegistrySize(t *testing.T) {
	c, ft := newTestCoordinator()

	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi", AmbulanceLicense: "KA-01"})
	c.RegisterDriver("d2", models.RegisterDriverPayload{Name: "mani", AmbulanceLicense: "KA-02"})

	b, ok := ft.lastBroadcast(models.EvDriverCountUpdate)
	if !ok {
		t.Fatal("expected driverCountUpdate broadcast")
	}
	if got := b.Data.(map[string]int)["count"]; got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	c.Disconnect("d1")
	b, ok = ft.lastBroadcast(models.EvDriverCountUpdate)
	if !ok {
		t.Fatal("expected driverCountUpdate after disconnect")
	}
	if got := b.Data.(map[string]int)["count"]; got != 1 {
		t.Fatalf("expected count 1 after disconnect, got %d", got)
	}
	if c.DriverCount() != 1 {
		t.Fatalf("registry size %d", c.DriverCount())
	}
}

func TestHospitalDisconnectNoCountBroadcast(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City"})
	ft.reset()

	c.Disconnect("h1")
	if _, ok := ft.lastBroadcast(models.EvDriverCountUpdate); ok {
		t.Fatal("hospital disconnect must not broadcast driver count")
	}
	if c.HospitalCount() != 0 {
		t.Fatalf("hospital not removed")
	}
}

func TestSubmitFansOutToAllRoles(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterDriver("d2", models.RegisterDriverPayload{Name: "mani"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City"})
	ft.reset()

	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", UserName: "asha", Location: "12.90,77.60", Type: "accident"})

	for _, d := range []string{"d1", "d2"} {
		if n := len(ft.framesTo(d, models.EvReceiveSOS)); n != 1 {
			t.Fatalf("driver %s: expected 1 receiveSOS, got %d", d, n)
		}
	}
	if n := len(ft.framesTo("h1", models.EvNewSOS)); n != 1 {
		t.Fatalf("expected 1 newSOS to hospital, got %d", n)
	}
	conf := ft.framesTo("p1", models.EvSOSConfirmed)
	if len(conf) != 1 {
		t.Fatalf("expected sosConfirmed to submitter, got %d", len(conf))
	}
	rec := conf[0].out.Data.(models.SOSRequest)
	if rec.Status != models.StatusPending || rec.UserName != "asha" {
		t.Fatalf("unexpected confirmed record: %+v", rec)
	}
}

func TestSubmitDuplicateRejectedToSubmitterOnly(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	ft.reset()

	c.SubmitSOS("p2", models.SendSOSPayload{SOSID: "S1", Location: "0,0"})

	if n := len(ft.framesTo("p2", models.EvSOSRejected)); n != 1 {
		t.Fatalf("expected sosRejected, got %d", n)
	}
	if n := len(ft.framesTo("d1", models.EvReceiveSOS)); n != 0 {
		t.Fatal("duplicate submission must not broadcast")
	}
}

func TestAcceptResolvesNearestHospital(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi", AmbulanceLicense: "KA-01"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "Near", HospitalLocation: "12.91,77.61"})
	c.RegisterHospital("h2", models.RegisterHospitalPayload{Name: "Far", HospitalLocation: "13.00,78.00"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	ft.reset()

	c.AcceptSOS("d1", "S1")

	acc := ft.framesTo("d1", models.EvSOSAccepted)
	if len(acc) != 1 {
		t.Fatalf("expected sosAccepted to driver, got %d", len(acc))
	}
	rec := acc[0].out.Data.(models.SOSRequest)
	if rec.Nearest == nil || rec.Nearest.Name != "Near" {
		t.Fatalf("expected nearest=Near, got %+v", rec.Nearest)
	}
	if rec.Nearest.DistanceKm <= 0 || rec.Nearest.DistanceKm > 2.0 {
		t.Fatalf("expected ~1.5 km, got %f", rec.Nearest.DistanceKm)
	}
	if rec.Nearest.EtaSeconds <= 0 {
		t.Fatalf("expected a travel-time estimate, got %f", rec.Nearest.EtaSeconds)
	}
	if rec.AcceptedBy != "ravi" || rec.AcceptedLicense != "KA-01" {
		t.Fatalf("driver credentials not recorded: %+v", rec)
	}

	// directed handoff to the matched hospital, plus the general notice
	if n := len(ft.framesTo("h1", models.EvIncomingPatient)); n != 1 {
		t.Fatalf("expected incomingPatient to nearest hospital, got %d", n)
	}
	if n := len(ft.framesTo("h1", models.EvSOSAccepted)); n != 1 {
		t.Fatalf("nearest hospital should also get the general notice, got %d", n)
	}
	if n := len(ft.framesTo("h2", models.EvSOSAccepted)); n != 1 {
		t.Fatalf("every hospital gets the general notice, got %d", n)
	}
	if n := len(ft.framesTo("h2", models.EvIncomingPatient)); n != 0 {
		t.Fatal("only the nearest hospital gets incomingPatient")
	}
}

func TestAcceptWithoutHospitalCoordinates(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "NoCoord", HospitalLocation: "not-a-location"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	ft.reset()

	c.AcceptSOS("d1", "S1")

	acc := ft.framesTo("d1", models.EvSOSAccepted)
	if len(acc) != 1 {
		t.Fatal("acceptance should succeed without a matchable hospital")
	}
	rec := acc[0].out.Data.(models.SOSRequest)
	if rec.Nearest != nil {
		t.Fatalf("expected no nearest hospital, got %+v", rec.Nearest)
	}
	if n := len(ft.framesTo("h1", models.EvSOSAccepted)); n != 1 {
		t.Fatal("hospital without coordinates is still a broadcast target")
	}
}

func TestAcceptExclusive(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterDriver("d2", models.RegisterDriverPayload{Name: "mani"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	ft.reset()

	var wg sync.WaitGroup
	for _, d := range []string{"d1", "d2", "d1", "d2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.AcceptSOS(id, "S1")
		}(d)
	}
	wg.Wait()

	wins := len(ft.framesTo("d1", models.EvSOSAccepted)) + len(ft.framesTo("d2", models.EvSOSAccepted))
	fails := len(ft.framesTo("d1", models.EvSOSAcceptFailed)) + len(ft.framesTo("d2", models.EvSOSAcceptFailed))
	if wins != 1 {
		t.Fatalf("expected exactly one successful acceptance, got %d", wins)
	}
	if fails != 3 {
		t.Fatalf("expected 3 rejections, got %d", fails)
	}
}

func TestAcceptFailuresReportedToCallerOnly(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City"})
	ft.reset()

	c.AcceptSOS("d1", "missing")
	if n := len(ft.framesTo("d1", models.EvSOSAcceptFailed)); n != 1 {
		t.Fatalf("expected sosAcceptFailed, got %d", n)
	}
	if n := len(ft.framesTo("h1", models.EvSOSAccepted)); n != 0 {
		t.Fatal("failed accept must not broadcast")
	}

	// a connection that never registered as a driver cannot accept
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "1,1"})
	ft.reset()
	c.AcceptSOS("stranger", "S1")
	if n := len(ft.framesTo("stranger", models.EvSOSAcceptFailed)); n != 1 {
		t.Fatalf("expected rejection for unregistered caller, got %d", n)
	}
}

func TestDriverDisconnectReopensAcceptedRequest(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterDriver("d2", models.RegisterDriverPayload{Name: "mani"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City", HospitalLocation: "12.91,77.61"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	c.AcceptSOS("d1", "S1")
	ft.reset()

	c.Disconnect("d1")

	reopen := ft.framesTo("d2", models.EvReceiveSOS)
	if len(reopen) != 1 {
		t.Fatalf("expected reopened request offered to d2, got %d", len(reopen))
	}
	rec := reopen[0].out.Data.(models.SOSRequest)
	if rec.Status != models.StatusPending || rec.AcceptedBy != "" || rec.Nearest != nil {
		t.Fatalf("acceptance state not cleared: %+v", rec)
	}

	// a different driver can now take it
	ft.reset()
	c.AcceptSOS("d2", "S1")
	if n := len(ft.framesTo("d2", models.EvSOSAccepted)); n != 1 {
		t.Fatal("second driver should be able to accept after revert")
	}
}

func TestPatientArrivedNotifiesAllHospitals(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "Near", HospitalLocation: "12.91,77.61"})
	c.RegisterHospital("h2", models.RegisterHospitalPayload{Name: "Far", HospitalLocation: "13.00,78.00"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	c.AcceptSOS("d1", "S1")
	ft.reset()

	c.PatientArrived("d1", models.PatientArrivedPayload{SOSID: "S1", Hospital: "ignored label"})

	for _, h := range []string{"h1", "h2"} {
		frames := ft.framesTo(h, models.EvPatientArrivedOut)
		if len(frames) != 1 {
			t.Fatalf("hospital %s: expected patientArrived, got %d", h, len(frames))
		}
		data := frames[0].out.Data.(map[string]string)
		if data["hospital"] != "Near" {
			t.Fatalf("expected resolved hospital name, got %q", data["hospital"])
		}
		if data["driverName"] != "ravi" {
			t.Fatalf("expected recorded driver name, got %q", data["driverName"])
		}
	}
}

func TestPatientArrivedOutOfOrderUsesClientLabel(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "1,1"})
	ft.reset()

	// arrival without any acceptance is tolerated
	c.PatientArrived("d9", models.PatientArrivedPayload{SOSID: "S1", Hospital: "St. Mary", DriverName: "guest"})

	frames := ft.framesTo("h1", models.EvPatientArrivedOut)
	if len(frames) != 1 {
		t.Fatalf("expected patientArrived, got %d", len(frames))
	}
	data := frames[0].out.Data.(map[string]string)
	if data["hospital"] != "St. Mary" || data["driverName"] != "guest" {
		t.Fatalf("expected client-supplied fallbacks, got %+v", data)
	}
}

func TestRoleIsExclusivePerConnection(t *testing.T) {
	c, _ := newTestCoordinator()
	c.RegisterDriver("c1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterHospital("c1", models.RegisterHospitalPayload{Name: "City"})

	if c.DriverCount() != 0 {
		t.Fatalf("driver record should be replaced, count=%d", c.DriverCount())
	}
	if c.HospitalCount() != 1 {
		t.Fatalf("expected hospital registration to win, count=%d", c.HospitalCount())
	}
}

func TestHospitalRegisteredIncludesActiveRequests(t *testing.T) {
	c, ft := newTestCoordinator()
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "1,1"})
	c.SubmitSOS("p2", models.SendSOSPayload{SOSID: "S2", Location: "2,2"})
	ft.reset()

	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "City"})

	frames := ft.framesTo("h1", models.EvHospitalRegistered)
	if len(frames) != 1 {
		t.Fatalf("expected hospitalRegistered, got %d", len(frames))
	}
	data := frames[0].out.Data.(map[string]any)
	reqs := data["requests"].([]models.SOSRequest)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 in-flight requests in reply, got %d", len(reqs))
	}
}

func TestNearestSnapshotImmutableAcrossLateRegistration(t *testing.T) {
	c, ft := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.RegisterHospital("h1", models.RegisterHospitalPayload{Name: "First", HospitalLocation: "12.91,77.61"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "S1", Location: "12.90,77.60"})
	c.AcceptSOS("d1", "S1")

	// a closer hospital joins after acceptance; the snapshot must not move
	c.RegisterHospital("h2", models.RegisterHospitalPayload{Name: "Closer", HospitalLocation: "12.901,77.601"})
	ft.reset()
	c.PatientArrived("d1", models.PatientArrivedPayload{SOSID: "S1"})

	frames := ft.framesTo("h1", models.EvPatientArrivedOut)
	if len(frames) != 1 {
		t.Fatalf("expected patientArrived, got %d", len(frames))
	}
	if got := frames[0].out.Data.(map[string]string)["hospital"]; got != "First" {
		t.Fatalf("nearest snapshot changed after acceptance: %q", got)
	}
}

func TestReaperEvictsRegardlessOfStatus(t *testing.T) {
	c, _ := newTestCoordinator()
	c.RegisterDriver("d1", models.RegisterDriverPayload{Name: "ravi"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "done", Location: "1,1"})
	c.SubmitSOS("p1", models.SendSOSPayload{SOSID: "taken", Location: "1,1"})
	c.AcceptSOS("d1", "taken")
	c.PatientArrived("d1", models.PatientArrivedPayload{SOSID: "done"})

	// age both past the window
	for _, id := range []string{"done", "taken"} {
		c.ledger.Mutate(id, func(r *models.SOSRequest) {
			r.CreatedAt = time.Now().Add(-2 * time.Hour)
		})
	}

	reaper := NewReaper(c, time.Minute, time.Hour)
	if n := reaper.SweepOnce(); n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}
	if c.ledger.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d", c.ledger.Len())
	}
}
