package driver

import (
	"fmt"
	"time"

	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/protocol"
)

// send dispatches one command and blocks until its terminal response, a fatal
// status or the response window closes. Only one dispatch runs at a time.
// allowDisabled admits the setEnabled command while connected-disabled.
func (d *Driver) send(cmd protocol.Command, allowDisabled bool) (protocol.Response, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	sess, state := d.snapshot()
	if sess == nil || (!allowDisabled && state != StateConnectedEnabled) {
		return protocol.Response{}, fmt.Errorf("%s: %w", cmd.Verb, ErrNotEnabled)
	}

	id := d.packetID.Add(1)
	frame := protocol.Encode(id, cmd)
	start := d.clock.Now()

	monitoring.Debugf("send(%s)", frame)
	if err := sess.send(frame); err != nil {
		d.stats.record(dispatchSendFailed, 0, 0)
		return protocol.Response{}, &CommandError{Verb: cmd.Verb, PacketID: id, Err: fmt.Errorf("%w: %w", ErrSend, err)}
	}

	resp, provisionals, result, err := d.await(sess, id)
	d.stats.record(result, provisionals, d.clock.Since(start))
	if err != nil {
		return resp, &CommandError{Verb: cmd.Verb, PacketID: id, Err: err}
	}
	return resp, nil
}

// await runs the per-dispatch state machine for packet id. Each valid
// provisional response opens a fresh response window; malformed or
// uncorrelated frames are dropped without touching the window.
func (d *Driver) await(sess *session, id uint32) (protocol.Response, int, dispatchState, error) {
	var (
		state        = awaitingTerminal
		resp         protocol.Response
		provisionals int
		err          error
	)

	window := d.clock.NewTimer(d.cfg.ResponseTimeout)
	defer func() { window.Stop() }()

	var limit <-chan time.Time
	if d.cfg.MaxDispatchTime > 0 {
		deadline := d.clock.NewTimer(d.cfg.MaxDispatchTime)
		defer deadline.Stop()
		limit = deadline.C()
	}

	for state == awaitingTerminal {
		expired, capped := false, false
		select {
		case <-sess.queue.Wake():
		case <-window.C():
			expired = true
		case <-limit:
			capped = true
		}

		progressed := false
	drain:
		for _, payload := range sess.queue.Drain() {
			r, derr := protocol.Decode(payload, id)
			if derr != nil {
				monitoring.Debugf("discarding frame %q: %v", payload, derr)
				continue
			}
			d.setLast(r)
			switch {
			case r.Fatal():
				resp = r
				state = dispatchAborted
				err = &FatalError{PacketID: id, Status: r.Status}
				break drain
			case r.Provisional:
				provisionals++
				progressed = true
			default:
				resp = r
				state = dispatchDone
				break drain
			}
		}

		switch {
		case state != awaitingTerminal:
		case capped:
			state = dispatchTimedOut
			err = fmt.Errorf("%w: still working after %v", ErrTimeout, d.cfg.MaxDispatchTime)
		case progressed:
			window.Stop()
			window = d.clock.NewTimer(d.cfg.ResponseTimeout)
		case expired:
			state = dispatchTimedOut
			err = fmt.Errorf("%w within %v", ErrTimeout, d.cfg.ResponseTimeout)
		}
	}

	monitoring.Debugf("packet %d: %s after %d provisional responses", id, state, provisionals)
	return resp, provisionals, state, err
}
