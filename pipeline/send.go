////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/logging"
	"gitlab.com/elixxir/parley/metrics"
)

// Send shows the message optimistically, uploads the attachment if there is
// one, persists the message and hands it to moderation. It returns once the
// message is persisted; the moderation verdict arrives later over the bus.
//
// A failed upload or write removes the optimistic message before returning,
// so the caller only ever sees the error. Only one Send may run at a time per
// pipeline; a concurrent call fails with conversation.ErrSendInFlight.
func (p *Pipeline) Send(ctx context.Context, content string,
	upload *Upload) (conversation.Message, error) {
	kind := p.ref.Kind.String()
	if strings.TrimSpace(content) == "" && upload == nil {
		metrics.Sends.WithLabelValues(kind, metrics.OutcomeInvalid).Inc()
		return conversation.Message{}, conversation.ErrEmptyMessage
	}
	if !p.sending.CompareAndSwap(false, true) {
		metrics.Sends.WithLabelValues(kind, metrics.OutcomeInvalid).Inc()
		jww.DEBUG.Printf("[PIPELINE] Dropped send on %s: already sending",
			p.ref)
		return conversation.Message{}, conversation.ErrSendInFlight
	}
	defer p.sending.Store(false)

	if err := p.deps.Abuse.CheckBlocked(ctx, p.userID); err != nil {
		if errors.Is(err, conversation.ErrBlocked) {
			metrics.Sends.WithLabelValues(kind, metrics.OutcomeBlocked).Inc()
			jww.DEBUG.Printf("[PIPELINE] Refused send from %s: %s",
				p.userID, err)
			return conversation.Message{}, err
		}
		// Without the abuse record the send cannot be admitted.
		metrics.Sends.WithLabelValues(kind, metrics.OutcomePersist).Inc()
		return conversation.Message{}, conversation.NewFailure(
			conversation.ErrPersistFailure,
			errors.WithMessage(err, "failed to check block status"))
	}

	optimistic := conversation.Message{
		TempID:         uuid.New(),
		ConversationID: p.ref.ID,
		Kind:           p.ref.Kind,
		SenderID:       p.userID,
		Content:        content,
		CreatedAt:      p.deps.Clock.Now().UTC(),
		DeliveryStatus: conversation.Sending,
	}
	if upload != nil {
		optimistic.Attachment = &conversation.Attachment{
			MimeType: upload.ContentType,
			Name:     upload.Name,
		}
	}
	p.apply(LocalSend{Message: optimistic}, func(Effect) {
		p.model.MessageAdded(optimistic)
	})
	p.typingOut.Stop()
	jww.TRACE.Printf("[PIPELINE] Sending %s: %s", optimistic,
		logging.Content(content))

	var uploadedURL string
	if upload != nil {
		url, err := p.upload(ctx, upload)
		if err != nil {
			err = conversation.NewFailure(conversation.ErrUploadFailure, err)
			p.rollback(optimistic, err)
			metrics.Sends.WithLabelValues(kind, metrics.OutcomeUpload).Inc()
			return conversation.Message{}, err
		}
		uploadedURL = url
		optimistic.Attachment.URL = url
	}

	stored, err := p.deps.Store.Append(ctx, optimistic)
	if err != nil {
		jww.ERROR.Printf("[PIPELINE] Failed to persist %s: %+v", optimistic, err)
		err = conversation.NewFailure(conversation.ErrPersistFailure, err)
		p.rollback(optimistic, err)
		if uploadedURL != "" {
			p.deleteUpload(uploadedURL)
		}
		metrics.Sends.WithLabelValues(kind, metrics.OutcomePersist).Inc()
		return conversation.Message{}, err
	}

	p.apply(LocalConfirm{TempID: optimistic.TempID, Message: stored},
		func(Effect) { p.model.MessageConfirmed(optimistic.TempID, stored) })
	if p.deps.Cache != nil {
		p.deps.Cache.Append(stored)
	}
	metrics.Sends.WithLabelValues(kind, metrics.OutcomeSent).Inc()
	jww.DEBUG.Printf("[PIPELINE] Persisted %s as %s", optimistic, stored)

	// The verdict comes back over the bus; a full queue leaves the message
	// pending until the gate recovers it.
	if p.deps.Gate == nil {
		jww.DEBUG.Printf("[PIPELINE] No moderation gate, %s stays pending",
			stored)
	} else if err = p.deps.Gate.Submit(stored.Kind, stored.ID); err != nil {
		jww.WARN.Printf("[PIPELINE] Moderation of %s deferred: %+v",
			stored, err)
	}
	return stored, nil
}

func (p *Pipeline) upload(ctx context.Context, u *Upload) (string, error) {
	if p.deps.Files == nil {
		return "", errors.New("attachments are not configured")
	}
	data := u.Data
	if p.deps.Compressor != nil {
		var err error
		if data, err = p.deps.Compressor.Compress(data, u.ContentType); err != nil {
			return "", errors.WithMessagef(err, "failed to compress %q", u.Name)
		}
	}
	url, err := p.deps.Files.Upload(ctx, data, u.ContentType)
	if err != nil {
		return "", errors.WithMessagef(err, "failed to upload %q", u.Name)
	}
	return url, nil
}

// rollback removes an optimistic message after a failed send and posts the
// retry prompt.
func (p *Pipeline) rollback(m conversation.Message, cause error) {
	p.apply(LocalDiscard{TempID: m.TempID}, func(Effect) {
		p.model.MessageRemoved(m)
	})
	if p.deps.Reporter != nil {
		p.deps.Reporter.Report(event.Warning, event.CategorySend,
			event.TypeSendFailed, cause.Error())
	}
}

// deleteUpload removes an uploaded attachment whose message was never
// persisted.
func (p *Pipeline) deleteUpload(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
	defer cancel()
	path := p.deps.Files.PathOf(url)
	if err := p.deps.Files.Delete(ctx, []string{path}); err != nil {
		jww.WARN.Printf("[PIPELINE] Failed to delete orphaned upload %s: %+v",
			path, err)
	}
}
