package pim

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hollandpark/upb-bridge/internal/upb"
)

// immediateScheduler runs callbacks synchronously so tests never wait
// on real back-off delays.
type immediateScheduler struct{}

func (immediateScheduler) ScheduleAfter(_ time.Duration, fn func()) { fn() }

// fakeSender captures outgoing frames and lets tests script the PIM's
// responses by signalling the shared table from the send path.
type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	respond func(attempt int, frame []byte)
	err     error
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	frame := make([]byte, len(data))
	copy(frame, data)
	s.frames = append(s.frames, frame)
	attempt := len(s.frames)
	respond := s.respond
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if respond != nil {
		respond(attempt, frame)
	}
	return nil
}

func (s *fakeSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newTestEngine(sender *fakeSender, cfg EngineConfig) *Engine {
	if cfg.MaxProcessingTime == 0 {
		cfg.MaxProcessingTime = 50 * time.Millisecond
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewEngine(sender, NewTable(), immediateScheduler{}, cfg)
}

func TestTransactNoAckPulse(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})
	target := TargetID{NetworkID: 12, UnitID: 5, Link: true}

	// Without an ack pulse request, a nak is the expected outcome.
	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageNak)
	}

	payload, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDActivateLink, nil, false)
	if err != nil {
		t.Fatalf("Transact() unexpected error: %v", err)
	}
	if payload != nil {
		t.Errorf("payload = % X, want nil", payload)
	}
	if sender.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", sender.sendCount())
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after return = %d, want 0", engine.Table().Len())
	}
}

func TestTransactWithAckPulse(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})
	target := TargetID{NetworkID: 12, UnitID: 5}

	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageAck)
	}

	if _, err := engine.Transact(target, upb.AckFlags{Pulse: true}, upb.MDIDGoto, []byte{0x64}, false); err != nil {
		t.Fatalf("Transact() unexpected error: %v", err)
	}
}

func TestTransactAckMismatch(t *testing.T) {
	tests := []struct {
		name   string
		ack    upb.AckFlags
		remote MessageType
	}{
		{name: "nak when pulse requested", ack: upb.AckFlags{Pulse: true}, remote: MessageNak},
		{name: "ack when none requested", ack: upb.AckFlags{}, remote: MessageAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			engine := newTestEngine(sender, EngineConfig{MaxRetry: 5})
			target := TargetID{NetworkID: 1, UnitID: 2}

			sender.respond = func(_ int, _ []byte) {
				engine.Table().SignalPIMResponse(MessageAccept)
				engine.Table().SignalRemote(tt.remote)
			}

			_, err := engine.Transact(target, tt.ack, upb.MDIDGoto, nil, false)
			if !errors.Is(err, ErrAckMismatch) {
				t.Fatalf("Transact() error = %v, want ErrAckMismatch", err)
			}
			// Terminal: not retried.
			if sender.sendCount() != 1 {
				t.Errorf("sends = %d, want 1", sender.sendCount())
			}
			if engine.Table().Len() != 0 {
				t.Errorf("pending entries after return = %d, want 0", engine.Table().Len())
			}
		})
	}
}

func TestTransactSustainedBusy(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 4})
	target := TargetID{NetworkID: 1, UnitID: 2}

	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageBusy)
	}

	_, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false)
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("Transact() error = %v, want ErrMaxRetries", err)
	}
	// Exactly maxRetry attempts: never more, never fewer.
	if sender.sendCount() != 4 {
		t.Errorf("sends = %d, want 4", sender.sendCount())
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after return = %d, want 0", engine.Table().Len())
	}
}

func TestTransactRejected(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 5})
	target := TargetID{NetworkID: 1, UnitID: 2}

	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageReject)
	}

	_, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Transact() error = %v, want ErrRejected", err)
	}
	if sender.sendCount() != 1 {
		t.Errorf("sends = %d, want 1 (reject is terminal)", sender.sendCount())
	}
}

func TestTransactBusyThenAccept(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 5})
	target := TargetID{NetworkID: 1, UnitID: 2}

	sender.respond = func(attempt int, _ []byte) {
		if attempt < 3 {
			engine.Table().SignalPIMResponse(MessageBusy)
			return
		}
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageNak)
	}

	if _, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false); err != nil {
		t.Fatalf("Transact() unexpected error: %v", err)
	}
	if sender.sendCount() != 3 {
		t.Errorf("sends = %d, want 3", sender.sendCount())
	}
}

func TestTransactWithDataReport(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})
	target := TargetID{NetworkID: 30, UnitID: 7}

	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageAck)
		engine.Table().SignalReport(upb.Packet{
			NetworkID:     30,
			SourceID:      7,
			DestinationID: DefaultSourceID,
			MessageDataID: upb.MDIDDeviceStateReport,
			Arguments:     []byte{0x55, 0x01},
		})
	}

	payload, err := engine.Transact(target, upb.AckFlags{Pulse: true}, upb.MDIDReportState, nil, true)
	if err != nil {
		t.Fatalf("Transact() unexpected error: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0x55 {
		t.Errorf("payload = % X, want 55 01", payload)
	}
}

func TestTransactReportNeverArrives(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 2, MaxProcessingTime: 20 * time.Millisecond})
	target := TargetID{NetworkID: 30, UnitID: 7}

	sender.respond = func(_ int, _ []byte) {
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageAck)
		// No report ever follows.
	}

	_, err := engine.Transact(target, upb.AckFlags{Pulse: true}, upb.MDIDReportState, nil, true)
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("Transact() error = %v, want ErrMaxRetries", err)
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after timeout = %d, want 0", engine.Table().Len())
	}
}

func TestTransactStageATimeout(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 2, MaxProcessingTime: 20 * time.Millisecond})
	target := TargetID{NetworkID: 1, UnitID: 2}

	// PIM never responds at all.
	_, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false)
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("Transact() error = %v, want ErrMaxRetries", err)
	}
	if sender.sendCount() != 2 {
		t.Errorf("sends = %d, want 2", sender.sendCount())
	}
}

func TestTransactEncodingErrors(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{})
	target := TargetID{NetworkID: 1, UnitID: 2}

	args := make([]byte, upb.MaxArguments+1)
	_, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, args, false)
	if !errors.Is(err, upb.ErrEncoding) {
		t.Fatalf("Transact() error = %v, want upb.ErrEncoding", err)
	}
	// Invalid input fails before anything touches the wire.
	if sender.sendCount() != 0 {
		t.Errorf("sends = %d, want 0", sender.sendCount())
	}
}

func TestTransactSerialisesPerTarget(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})
	target := TargetID{NetworkID: 1, UnitID: 2}

	sender.respond = func(_ int, _ []byte) {
		// The per-target lock must guarantee at most one pending entry
		// at any observable instant.
		if n := engine.Table().Len(); n > 1 {
			t.Errorf("pending entries during transact = %d, want <= 1", n)
		}
		engine.Table().SignalPIMResponse(MessageAccept)
		engine.Table().SignalRemote(MessageNak)
	}

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false); err != nil {
				t.Errorf("Transact() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sender.sendCount() != callers {
		t.Errorf("sends = %d, want %d", sender.sendCount(), callers)
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after all calls = %d, want 0", engine.Table().Len())
	}
}

func TestTransactSendFailure(t *testing.T) {
	sender := &fakeSender{err: ErrNotConnected}
	engine := newTestEngine(sender, EngineConfig{MaxRetry: 5})
	target := TargetID{NetworkID: 1, UnitID: 2}

	_, err := engine.Transact(target, upb.AckFlags{}, upb.MDIDGoto, nil, false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Transact() error = %v, want ErrTransport", err)
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after send failure = %d, want 0", engine.Table().Len())
	}
}

func TestReadRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(_ int, _ []byte) {
			engine.Table().SignalPIMResponse(MessageAccept)
			engine.Table().SignalRegisterReport([]byte{0x70, 0x0C, 0x1E})
		}

		values, err := engine.ReadRegister(0x70, 2)
		if err != nil {
			t.Fatalf("ReadRegister() unexpected error: %v", err)
		}
		if len(values) != 2 || values[0] != 0x0C || values[1] != 0x1E {
			t.Errorf("values = % X, want 0C 1E", values)
		}
	})

	t.Run("wrong register is a mismatch", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(_ int, _ []byte) {
			engine.Table().SignalPIMResponse(MessageAccept)
			engine.Table().SignalRegisterReport([]byte{0x71, 0x0C, 0x1E})
		}

		_, err := engine.ReadRegister(0x70, 2)
		if !errors.Is(err, ErrRegisterMismatch) {
			t.Fatalf("ReadRegister() error = %v, want ErrRegisterMismatch", err)
		}
	})

	t.Run("wrong length is a mismatch", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(_ int, _ []byte) {
			engine.Table().SignalPIMResponse(MessageAccept)
			engine.Table().SignalRegisterReport([]byte{0x70, 0x0C})
		}

		_, err := engine.ReadRegister(0x70, 2)
		if !errors.Is(err, ErrRegisterMismatch) {
			t.Fatalf("ReadRegister() error = %v, want ErrRegisterMismatch", err)
		}
	})

	t.Run("invalid count", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{})

		if _, err := engine.ReadRegister(0x70, 0); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("ReadRegister() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestWriteRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(_ int, _ []byte) {
			engine.Table().SignalPIMResponse(MessageAccept)
		}

		if err := engine.WriteRegister(0x70, []byte{0x0C}); err != nil {
			t.Fatalf("WriteRegister() unexpected error: %v", err)
		}
	})

	t.Run("busy then accept", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(attempt int, _ []byte) {
			if attempt == 1 {
				engine.Table().SignalPIMResponse(MessageBusy)
				return
			}
			engine.Table().SignalPIMResponse(MessageAccept)
		}

		if err := engine.WriteRegister(0x70, []byte{0x0C}); err != nil {
			t.Fatalf("WriteRegister() unexpected error: %v", err)
		}
		if sender.sendCount() != 2 {
			t.Errorf("sends = %d, want 2", sender.sendCount())
		}
	})

	t.Run("rejected", func(t *testing.T) {
		sender := &fakeSender{}
		engine := newTestEngine(sender, EngineConfig{MaxRetry: 3})

		sender.respond = func(_ int, _ []byte) {
			engine.Table().SignalPIMResponse(MessageReject)
		}

		if err := engine.WriteRegister(0x70, []byte{0x0C}); !errors.Is(err, ErrRejected) {
			t.Fatalf("WriteRegister() error = %v, want ErrRejected", err)
		}
	})
}

func TestRemoveTarget(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, EngineConfig{})
	target := TargetID{NetworkID: 1, UnitID: 2}

	engine.lockFor(target)
	engine.Table().Open(target)

	engine.RemoveTarget(target)

	engine.locksMu.Lock()
	_, exists := engine.locks[target]
	engine.locksMu.Unlock()
	if exists {
		t.Error("lock still present after RemoveTarget()")
	}
	if engine.Table().Len() != 0 {
		t.Errorf("pending entries after RemoveTarget() = %d, want 0", engine.Table().Len())
	}
}
