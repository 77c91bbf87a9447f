////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/stoppable"
)

// eventLoop applies bus events one at a time in arrival order.
func (p *Pipeline) eventLoop(stop *stoppable.Single) {
	events := p.sub.Events()
	for {
		select {
		case <-stop.Quit():
			stop.ToStopped()
			return
		case evt, ok := <-events:
			if !ok {
				// The subscription closed first; wait for our own quit.
				<-stop.Quit()
				stop.ToStopped()
				return
			}
			p.handle(evt)
		}
	}
}

func (p *Pipeline) handle(evt realtime.Event) {
	jww.TRACE.Printf("[PIPELINE] %s received %s", p.userID, evt)

	if evt.Op == realtime.Typing {
		if evt.Typing != nil && evt.Typing.UserID != p.userID {
			p.typingIn.Observe(*evt.Typing)
		}
		return
	}
	if evt.Row == nil {
		return
	}
	row := *evt.Row

	switch evt.Op {
	case realtime.Insert:
		eff := p.apply(RemoteInsert{Message: row}, func(Effect) {
			p.model.MessageAdded(row)
		})
		if eff.Changed {
			p.cacheAppend(row)
		}
		if eff.Received && p.isActive() {
			_ = p.markRead(context.Background())
		}

	case realtime.Update:
		p.apply(RemoteUpdate{Message: row}, func(eff Effect) {
			merged := p.find(row.ID)
			p.model.MessageUpdated(merged)
			if eff.Rejected != nil {
				p.reportRejection(*eff.Rejected)
			}
			p.cacheReplace(merged)
		})

	case realtime.Delete:
		p.apply(RemoteDelete{ID: row.ID}, func(Effect) {
			p.model.MessageRemoved(row)
			p.cacheRemove(row.ID)
		})
	}
}

// find returns the loaded copy of a persisted message.
func (p *Pipeline) find(id conversation.MessageID) conversation.Message {
	p.mux.Lock()
	defer p.mux.Unlock()
	if i := p.timeline.indexOf(id); i >= 0 {
		return p.timeline.messages[i].Clone()
	}
	return conversation.Message{}
}

func (p *Pipeline) reportRejection(m conversation.Message) {
	jww.INFO.Printf("[PIPELINE] %s was rejected: %s", m, m.RejectionReason)
	if p.deps.Reporter != nil {
		p.deps.Reporter.Report(event.Alert, event.CategoryModeration,
			event.TypeRejected, m.RejectionReason)
	}
}

func (p *Pipeline) cacheAppend(m conversation.Message) {
	if p.deps.Cache != nil {
		p.deps.Cache.Append(m)
	}
}

func (p *Pipeline) cacheReplace(m conversation.Message) {
	if p.deps.Cache == nil {
		return
	}
	p.deps.Cache.Update(p.ref, func(
		messages []conversation.Message) []conversation.Message {
		for i := range messages {
			if messages[i].ID == m.ID {
				messages[i] = m
			}
		}
		return messages
	})
}

func (p *Pipeline) cacheRemove(id conversation.MessageID) {
	if p.deps.Cache == nil {
		return
	}
	p.deps.Cache.Update(p.ref, func(
		messages []conversation.Message) []conversation.Message {
		kept := messages[:0]
		for _, m := range messages {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		return kept
	})
}
