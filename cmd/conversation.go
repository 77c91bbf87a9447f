////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/pipeline"
)

// sendCmd sends one message as --user and optionally waits for its verdict.
var sendCmd = &cobra.Command{
	Use:   "send <kind> <conversation> [message]",
	Short: "Sends a message to a negotiation or proposal conversation",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, userID, err := parseConversationArgs(args)
		if err != nil {
			return err
		}
		var content string
		if len(args) == 3 {
			content = args[2]
		}

		ctx := cmd.Context()
		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.close()
		svc.enableCache()

		var upload *pipeline.Upload
		if path := viper.GetString(attachFlag); path != "" {
			if upload, err = readUpload(path); err != nil {
				return err
			}
			if err = svc.openAttachments(); err != nil {
				return err
			}
		}
		if viper.GetBool(moderateFlag) {
			svc.startModeration()
		}

		model := newVerdictModel()
		p, err := svc.openPipeline(ctx, ref, userID, model)
		if err != nil {
			return err
		}
		defer closePipeline(p)

		m, err := p.Send(ctx, content, upload)
		if err != nil {
			return err
		}
		fmt.Printf("Sent message %s to %s\n", m.ID, ref)

		wait := viper.GetDuration(waitFlag)
		if svc.gate == nil || wait <= 0 {
			return nil
		}
		verdict, err := model.await(ctx, m.ID, wait)
		if err != nil {
			return err
		}
		if verdict.ModerationStatus == conversation.ModerationRejected {
			fmt.Printf("Message %s was rejected: %s\n", verdict.ID,
				verdict.RejectionReason)
		} else {
			fmt.Printf("Message %s was %s\n", verdict.ID,
				verdict.ModerationStatus)
		}
		return nil
	},
}

// historyCmd prints the conversation as --user sees it.
var historyCmd = &cobra.Command{
	Use:   "history <kind> <conversation>",
	Short: "Prints the messages of a conversation visible to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, userID, err := parseConversationArgs(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.close()
		svc.enableCache()

		p, err := svc.openPipeline(ctx, ref, userID, pipeline.NoopEventModel{})
		if err != nil {
			return err
		}
		defer closePipeline(p)

		for i := 1; i < viper.GetInt(pagesFlag) && p.HasMore(); i++ {
			if _, err = p.LoadMore(ctx); err != nil {
				return err
			}
		}

		messages := p.Messages()
		if len(messages) == 0 {
			fmt.Printf("No messages in %s\n", ref)
			return nil
		}
		if p.HasMore() {
			fmt.Println("(older messages not shown)")
		}
		for _, m := range messages {
			fmt.Println(formatMessage(m))
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String(attachFlag, "", "Path of a file to attach")
	bindFlagHelper(attachFlag, sendCmd)

	sendCmd.Flags().Bool(moderateFlag, true,
		"Run the moderation gate in this process")
	bindFlagHelper(moderateFlag, sendCmd)

	sendCmd.Flags().Duration(waitFlag, 10*time.Second,
		"How long to wait for the moderation verdict (0 does not wait)")
	bindFlagHelper(waitFlag, sendCmd)

	historyCmd.Flags().Int(pagesFlag, 1, "Number of pages to load")
	bindFlagHelper(pagesFlag, historyCmd)

	rootCmd.AddCommand(sendCmd, historyCmd)
}

func parseConversationArgs(args []string) (conversation.Ref, string, error) {
	kind, err := conversation.ParseKind(args[0])
	if err != nil {
		return conversation.Ref{}, "", err
	}
	userID := viper.GetString(userFlag)
	if userID == "" {
		return conversation.Ref{}, "", errors.Errorf("--%s is required", userFlag)
	}
	return conversation.NewRef(kind, args[1]), userID, nil
}

func readUpload(path string) (*pipeline.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read attachment %s", path)
	}
	jww.DEBUG.Printf("Read %s attachment %s", humanize.Bytes(uint64(len(data))),
		path)
	return &pipeline.Upload{
		Data:        data,
		ContentType: http.DetectContentType(data),
		Name:        filepath.Base(path),
	}, nil
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		jww.WARN.Printf("[PIPELINE] Failed to close %s: %+v", p.Ref(), err)
	}
}

// formatMessage renders one history line.
func formatMessage(m conversation.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", humanize.Time(m.CreatedAt), m.SenderID,
		m.Content)
	if m.Attachment != nil {
		fmt.Fprintf(&b, " <%s %s>", m.Attachment.Name, m.Attachment.URL)
	}
	switch m.ModerationStatus {
	case conversation.ModerationRejected:
		fmt.Fprintf(&b, " (rejected: %s)", m.RejectionReason)
	case conversation.ModerationPending:
		b.WriteString(" (pending)")
	default:
		fmt.Fprintf(&b, " (%s)", m.DeliveryStatus)
	}
	return b.String()
}

// verdictModel waits for the moderation verdict of a sent message.
type verdictModel struct {
	pipeline.NoopEventModel
	updates chan conversation.Message
}

func newVerdictModel() *verdictModel {
	return &verdictModel{updates: make(chan conversation.Message, 16)}
}

// MessageUpdated adheres to the [pipeline.EventModel] interface.
func (vm *verdictModel) MessageUpdated(m conversation.Message) {
	if m.ModerationStatus == conversation.ModerationPending {
		return
	}
	select {
	case vm.updates <- m:
	default:
	}
}

func (vm *verdictModel) await(ctx context.Context, id conversation.MessageID,
	timeout time.Duration) (conversation.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case m := <-vm.updates:
			if m.ID == id {
				return m, nil
			}
		case <-timer.C:
			return conversation.Message{}, errors.Errorf(
				"no moderation verdict for message %s after %s", id, timeout)
		case <-ctx.Done():
			return conversation.Message{}, ctx.Err()
		}
	}
}
