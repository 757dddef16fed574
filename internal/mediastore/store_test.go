package mediastore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

type recordingPersister struct {
	mu      sync.Mutex
	saves   map[int][]types.CapturedResource
	deletes []int
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{saves: make(map[int][]types.CapturedResource)}
}

func (p *recordingPersister) Save(tabID int, records []types.CapturedResource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves[tabID] = records
}

func (p *recordingPersister) Delete(tabID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saves, tabID)
	p.deletes = append(p.deletes, tabID)
}

func steppingClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestStore(p Persister) *Store {
	s := NewStore(p)
	s.now = steppingClock()
	return s
}

func TestInsertOrMergeDedupIdempotence(t *testing.T) {
	s := newTestStore(nil)
	obs := types.Observation{TabID: 7, URL: "https://cdn.example.com/v/clip.mp4?cb=1", DetectedBy: types.DetectedByContentType, ContentType: "video/mp4", SizeBytes: 4000}

	if got := s.InsertOrMerge(obs); got != Inserted {
		t.Fatalf("first InsertOrMerge() = %v; want %v", got, Inserted)
	}
	obs.URL = "https://cdn.example.com/v/clip.mp4?cb=2"
	obs.SizeBytes = 9000
	if got := s.InsertOrMerge(obs); got != Merged {
		t.Fatalf("second InsertOrMerge() = %v; want %v", got, Merged)
	}
	obs.SizeBytes = 100
	if got := s.InsertOrMerge(obs); got != Unchanged {
		t.Fatalf("third InsertOrMerge() = %v; want %v", got, Unchanged)
	}

	records := s.Records(7)
	if len(records) != 1 {
		t.Fatalf("len(Records()) = %d; want 1", len(records))
	}
	if records[0].BaseKey != "https://cdn.example.com/v/clip.mp4" {
		t.Fatalf("BaseKey = %q; want origin+path", records[0].BaseKey)
	}
	if records[0].SizeBytes != 9000 {
		t.Fatalf("SizeBytes = %d; want 9000", records[0].SizeBytes)
	}
	if records[0].URL != "https://cdn.example.com/v/clip.mp4?cb=1" {
		t.Fatalf("URL = %q; want first observed URL", records[0].URL)
	}
}

func TestMergeFillsUnknownFieldsOnly(t *testing.T) {
	s := newTestStore(nil)
	u := "https://video.twimg.com/ext_tw_video/1/pu/vid/clip.mp4"
	s.InsertOrMerge(types.Observation{TabID: 1, URL: u, DetectedBy: types.DetectedByURLPattern})
	s.InsertOrMerge(types.Observation{TabID: 1, URL: u, DetectedBy: types.DetectedByContentType, ContentType: "video/webm", SizeBytes: 10, Site: types.SiteTwitter})
	s.InsertOrMerge(types.Observation{TabID: 1, URL: u, DetectedBy: types.DetectedByContentType, ContentType: "video/mp4", Site: types.SiteFacebook})

	r := s.Records(1)[0]
	if r.ContentType == nil || *r.ContentType != "video/webm" {
		t.Fatalf("ContentType = %v; want video/webm", r.ContentType)
	}
	if r.Site != types.SiteTwitter {
		t.Fatalf("Site = %q; want twitter", r.Site)
	}
	if r.DetectedBy != types.DetectedByURLPattern {
		t.Fatalf("DetectedBy = %q; want first writer", r.DetectedBy)
	}
	if r.Extension == nil || *r.Extension != "mp4" {
		t.Fatalf("Extension = %v; want mp4 from first observation", r.Extension)
	}
}

func TestProbeSuppression(t *testing.T) {
	s := newTestStore(nil)
	probe := "https://rr1.googlevideo.com/videoplayback?id=o-abc&itag=137&range=0-50000"
	if got := s.InsertOrMerge(types.Observation{TabID: 3, URL: probe, Site: types.SiteYouTube}); got != Rejected {
		t.Fatalf("InsertOrMerge(probe) = %v; want %v", got, Rejected)
	}
	if s.HasSession(3) {
		t.Fatalf("HasSession() = true; want no records after probe")
	}

	chunk := "https://rr1.googlevideo.com/videoplayback?id=o-abc&itag=137&range=0-2000000"
	if got := s.InsertOrMerge(types.Observation{TabID: 3, URL: chunk, Site: types.SiteYouTube}); got != Inserted {
		t.Fatalf("InsertOrMerge(chunk) = %v; want %v", got, Inserted)
	}
}

func TestYouTubeVariantsAreDistinct(t *testing.T) {
	s := newTestStore(nil)
	for _, u := range []string{
		"https://rr1.googlevideo.com/videoplayback?id=o-abc&itag=137&range=0-200000&rn=1",
		"https://rr2.googlevideo.com/videoplayback?id=o-abc&itag=137&range=200000-900000&rn=2",
		"https://rr1.googlevideo.com/videoplayback?id=o-abc&itag=140&range=0-200000&rn=3",
	} {
		s.InsertOrMerge(types.Observation{TabID: 1, URL: u, Site: types.SiteYouTube, DetectedBy: types.DetectedBySitePattern})
	}
	records := s.Records(1)
	if len(records) != 2 {
		t.Fatalf("len(Records()) = %d; want 2 (one per itag)", len(records))
	}
	if records[0].BaseKey != "yt:o-abc:137" || records[1].BaseKey != "yt:o-abc:140" {
		t.Fatalf("BaseKeys = %q, %q; want yt:o-abc:137, yt:o-abc:140", records[0].BaseKey, records[1].BaseKey)
	}
	if records[0].Quality != "1080p" {
		t.Fatalf("Quality = %q; want 1080p", records[0].Quality)
	}
}

func TestStaticAssetNeverInserted(t *testing.T) {
	s := newTestStore(nil)
	for _, u := range []string{"https://cdn.example.com/poster.png", "https://cdn.example.com/video/site.css?v=1"} {
		got := s.InsertOrMerge(types.Observation{TabID: 1, URL: u, ContentType: "video/mp4", SizeBytes: 1 << 20, DetectedBy: types.DetectedByContentType})
		if got != Rejected {
			t.Fatalf("InsertOrMerge(%q) = %v; want rejected", u, got)
		}
	}
	if len(s.Records(1)) != 0 {
		t.Fatalf("Records() not empty after static assets")
	}
}

func TestEvictionOrder(t *testing.T) {
	s := newTestStore(nil)
	for i := 0; i < 205; i++ {
		s.InsertOrMerge(types.Observation{TabID: 1, URL: fmt.Sprintf("https://cdn.example.com/v/%03d.mp4", i), DetectedBy: types.DetectedByURLPattern})
	}
	records := s.Records(1)
	if len(records) != MaxPerTab {
		t.Fatalf("len(Records()) = %d; want %d", len(records), MaxPerTab)
	}
	if records[0].URL != "https://cdn.example.com/v/005.mp4" {
		t.Fatalf("oldest remaining = %q; want 005.mp4", records[0].URL)
	}

	// An evicted key is a new resource again.
	got := s.InsertOrMerge(types.Observation{TabID: 1, URL: "https://cdn.example.com/v/000.mp4", DetectedBy: types.DetectedByURLPattern})
	if got != Inserted {
		t.Fatalf("InsertOrMerge(evicted) = %v; want %v", got, Inserted)
	}
}

func TestRankedSnapshot(t *testing.T) {
	s := newTestStore(nil)
	add := func(name string, size int64) {
		s.InsertOrMerge(types.Observation{TabID: 1, URL: "https://cdn.example.com/" + name, SizeBytes: size, DetectedBy: types.DetectedByContentType, ContentType: "video/mp4"})
	}
	add("ten.mp4", 10)
	add("fifty-early.mp4", 50)
	add("fifty-late.mp4", 50)
	add("zero.mp4", 0)
	add("seg-1.ts", 900)

	ranked := s.RankedSnapshot(1)
	want := []string{"fifty-late.mp4", "fifty-early.mp4", "ten.mp4", "zero.mp4"}
	if len(ranked) != len(want) {
		t.Fatalf("len(RankedSnapshot()) = %d; want %d", len(ranked), len(want))
	}
	for i, name := range want {
		if ranked[i].URL != "https://cdn.example.com/"+name {
			t.Fatalf("RankedSnapshot()[%d] = %q; want %q", i, ranked[i].URL, name)
		}
	}
}

func TestRankedSnapshotFallsBackToSegments(t *testing.T) {
	s := newTestStore(nil)
	s.InsertOrMerge(types.Observation{TabID: 1, URL: "https://cdn.example.com/hls/a.ts", DetectedBy: types.DetectedByContentType, ContentType: "video/mp2t", SizeBytes: 5})
	s.InsertOrMerge(types.Observation{TabID: 1, URL: "https://cdn.example.com/hls/b.ts", DetectedBy: types.DetectedByContentType, ContentType: "video/mp2t", SizeBytes: 9})

	ranked := s.RankedSnapshot(1)
	if len(ranked) != 2 {
		t.Fatalf("len(RankedSnapshot()) = %d; want 2 segments", len(ranked))
	}
	if !ranked[0].IsSegment || ranked[0].URL != "https://cdn.example.com/hls/a.ts" {
		t.Fatalf("RankedSnapshot()[0] = %+v; want first segment in insertion order", ranked[0])
	}
}

func TestPersistOnMutationAndClear(t *testing.T) {
	p := newRecordingPersister()
	s := newTestStore(p)
	s.InsertOrMerge(types.Observation{TabID: 4, URL: "https://cdn.example.com/a.mp4", DetectedBy: types.DetectedByURLPattern})
	s.InsertOrMerge(types.Observation{TabID: 4, URL: "https://cdn.example.com/a.mp4", SizeBytes: 77, DetectedBy: types.DetectedByContentType})

	saved := p.saves[4]
	if len(saved) != 1 || saved[0].SizeBytes != 77 {
		t.Fatalf("persisted snapshot = %+v; want one record with size 77", saved)
	}

	s.Clear(4)
	if s.HasSession(4) {
		t.Fatalf("HasSession() = true after Clear()")
	}
	if len(p.deletes) != 1 || p.deletes[0] != 4 {
		t.Fatalf("deletes = %v; want [4]", p.deletes)
	}
}

func TestRestoreDoesNotPersist(t *testing.T) {
	p := newRecordingPersister()
	s := newTestStore(p)
	s.Restore(9, []types.CapturedResource{
		{URL: "https://cdn.example.com/a.mp4", SizeBytes: 5},
		{URL: "https://cdn.example.com/a.mp4?again=1", SizeBytes: 6},
	})
	if _, ok := p.saves[9]; ok {
		t.Fatalf("Restore() persisted; want memory only")
	}
	records := s.Records(9)
	if len(records) != 1 || records[0].BaseKey != "https://cdn.example.com/a.mp4" {
		t.Fatalf("Records() = %+v; want one record keyed by origin+path", records)
	}
}

func TestRestoreIfAbsentKeepsLiveSession(t *testing.T) {
	s := newTestStore(nil)
	s.InsertOrMerge(types.Observation{TabID: 5, URL: "https://cdn.example.com/live.mp4", DetectedBy: types.DetectedByURLPattern})

	if s.RestoreIfAbsent(5, []types.CapturedResource{{URL: "https://cdn.example.com/old.mp4"}}) {
		t.Fatalf("RestoreIfAbsent() = true; want false with a live session")
	}
	records := s.Records(5)
	if len(records) != 1 || records[0].URL != "https://cdn.example.com/live.mp4" {
		t.Fatalf("Records(5) = %+v; want the live record only", records)
	}

	if !s.RestoreIfAbsent(6, []types.CapturedResource{{URL: "https://cdn.example.com/old.mp4"}}) {
		t.Fatalf("RestoreIfAbsent() = false; want true for an empty tab")
	}
	if s.RestoreIfAbsent(8, nil) || s.HasSession(8) {
		t.Fatalf("RestoreIfAbsent(nil) should install nothing")
	}
}

func TestOnChangeListener(t *testing.T) {
	s := newTestStore(nil)
	var kinds []ChangeKind
	s.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	s.InsertOrMerge(types.Observation{TabID: 2, URL: "https://cdn.example.com/a.mp4", DetectedBy: types.DetectedByURLPattern})
	s.InsertOrMerge(types.Observation{TabID: 2, URL: "https://cdn.example.com/a.mp4", SizeBytes: 1, DetectedBy: types.DetectedByURLPattern})
	s.Clear(2)
	s.Clear(2)

	want := []ChangeKind{ChangeCaptured, ChangeMerged, ChangeCleared}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("changes = %v; want %v", kinds, want)
	}
}
