package player

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player/capture"
	"github.com/zsiec/camview/internal/player/decode"
	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/mse"
	"github.com/zsiec/camview/internal/player/transform"
)

// Grabber is implemented by surfaces that can render the current frame.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// Stats is a point-in-time view of a player.
type Stats struct {
	Session          string             `json:"session"`
	URL              string             `json:"url"`
	Started          bool               `json:"started"`
	Connected        bool               `json:"connected"`
	Destroyed        bool               `json:"destroyed"`
	RetriesLeft      int                `json:"retries_left"`
	PacketCount      int                `json:"packet_count"`
	PacketsPerSecond int                `json:"packets_per_second"`
	Counters         transform.Counters `json:"counters"`
	Mode             transform.Mode     `json:"mode"`
	Hidden           bool               `json:"hidden"`
	Stream           decode.StreamInfo  `json:"stream"`
	Buffer           *mse.Stats         `json:"buffer,omitempty"`
	Capture          capture.Status     `json:"capture"`
	SnapshotInFlight bool               `json:"snapshot_in_flight"`
}

func (p *Player) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.call(ctx, func() {
		st = Stats{
			Session:          p.id,
			URL:              p.url,
			Started:          p.started,
			Connected:        p.connected,
			Destroyed:        p.destroyed,
			RetriesLeft:      p.retries,
			PacketCount:      p.packetCount,
			PacketsPerSecond: p.packetsPerSecond,
			Counters:         p.transformer.Counters(),
			Mode:             p.mode,
			Hidden:           p.hidden,
			Stream:           p.stream,
			Capture:          p.capture.Status(),
			SnapshotInFlight: p.snapshotInFlight,
		}
		if p.ctrl != nil {
			bs := p.ctrl.Stats()
			st.Buffer = &bs
		}
	})
	return st, err
}

// StartCapture begins collecting the raw bitstream. A non-positive
// duration uses the configured default; longer than the maximum is
// clamped. The capture exports itself once the duration has elapsed.
func (p *Player) StartCapture(d time.Duration) error {
	if d <= 0 {
		d = p.cfg.CaptureDefault
	}
	if p.cfg.CaptureMax > 0 && d > p.cfg.CaptureMax {
		d = p.cfg.CaptureMax
	}
	return p.call(context.Background(), func() {
		p.capture.Start(d, p.now())
		p.logger.WithField("duration", d).Info("Capture started")
	})
}

// StopAndExportCapture ends the running capture and saves what it has
// collected so far.
func (p *Player) StopAndExportCapture(ctx context.Context) (media.Artifact, error) {
	var (
		art media.Artifact
		err error
	)
	if cerr := p.call(ctx, func() {
		art, err = p.capture.Export(p.now())
	}); cerr != nil {
		return media.Artifact{}, cerr
	}
	if err != nil {
		return media.Artifact{}, err
	}

	if err := p.save(ctx, art); err != nil {
		return art, err
	}
	metrics.RecordCaptureExport("manual", len(art.Data))
	p.sched.Post(func() { p.notifyArtifact(EventCaptureExported, art) })
	return art, nil
}

// onCaptureExport runs on the control thread when a capture's duration
// elapses. The artifact is saved off the control thread.
func (p *Player) onCaptureExport(art media.Artifact) {
	p.logger.WithFields(map[string]interface{}{
		"artifact": art.Name,
		"bytes":    len(art.Data),
	}).Info("Capture duration elapsed, exporting")

	go func() {
		if err := p.save(context.Background(), art); err != nil {
			p.logger.WithError(err).WithField("artifact", art.Name).Error("Failed to save capture")
			return
		}
		metrics.RecordCaptureExport("auto", len(art.Data))
		p.sched.Post(func() { p.notifyArtifact(EventCaptureExported, art) })
	}()
}

// Snapshot renders the current frame to JPEG and saves it. Only one
// snapshot may be in flight; appends are held while it runs.
func (p *Player) Snapshot(ctx context.Context) (media.Artifact, error) {
	var (
		grabber Grabber
		pixels  int
		err     error
	)
	if cerr := p.call(ctx, func() {
		switch {
		case p.destroyed:
			err = ErrDestroyed
			return
		case p.snapshotInFlight:
			err = ErrSnapshotInFlight
			return
		}
		g, ok := p.surface.(Grabber)
		if !ok {
			err = ErrNoGrabber
			return
		}
		grabber = g
		pixels = p.stream.Width * p.stream.Height
		p.snapshotInFlight = true
		if p.ctrl != nil {
			p.ctrl.Hold(true)
		}
	}); cerr != nil {
		return media.Artifact{}, cerr
	}
	if err != nil {
		metrics.IncrementSnapshot("rejected")
		return media.Artifact{}, err
	}

	defer p.sched.Post(func() {
		p.snapshotInFlight = false
		if p.ctrl != nil {
			p.ctrl.Hold(false)
		}
	})

	if p.cfg.SnapshotSettle {
		if err := p.sleep(ctx, SettleDelay(pixels)); err != nil {
			metrics.IncrementSnapshot("failed")
			return media.Artifact{}, err
		}
	}

	art, err := p.grab(ctx, grabber)
	if err != nil {
		metrics.IncrementSnapshot("failed")
		return media.Artifact{}, err
	}
	if err := p.save(ctx, art); err != nil {
		metrics.IncrementSnapshot("failed")
		return art, err
	}

	metrics.IncrementSnapshot("ok")
	p.sched.Post(func() { p.notifyArtifact(EventSnapshotExported, art) })
	return art, nil
}

func (p *Player) grab(ctx context.Context, g Grabber) (media.Artifact, error) {
	img, err := g.Grab(ctx)
	if err != nil {
		return media.Artifact{}, fmt.Errorf("failed to grab frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.SnapshotQuality}); err != nil {
		return media.Artifact{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	now := p.now()
	return media.Artifact{
		Name:        SnapshotName(now),
		ContentType: media.ContentTypeJPEG,
		Data:        buf.Bytes(),
		CreatedAt:   now,
	}, nil
}

func (p *Player) save(ctx context.Context, art media.Artifact) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Save(ctx, art); err != nil {
		return fmt.Errorf("failed to save %s: %w", art.Name, err)
	}
	return nil
}

func (p *Player) notifyArtifact(t EventType, art media.Artifact) {
	p.notify(Event{Type: t, Artifact: art.Name, Bytes: len(art.Data)})
}

// SettleDelay is how long to let the surface settle before grabbing a
// frame of the given pixel count. Larger frames take longer to paint.
func SettleDelay(pixels int) time.Duration {
	switch {
	case pixels >= 3000*3000:
		return 1500 * time.Millisecond
	case pixels >= 2560*2560:
		return 1200 * time.Millisecond
	case pixels >= 1920*1920:
		return 800 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

// SnapshotName is snapshot_<unix milliseconds>.jpeg.
func SnapshotName(t time.Time) string {
	return fmt.Sprintf("snapshot_%d.jpeg", t.UnixMilli())
}
