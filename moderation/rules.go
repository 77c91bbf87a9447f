////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package moderation

import (
	"context"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/forPelevin/gomoji"
	"github.com/ttacon/libphonenumber"

	"gitlab.com/elixxir/parley/conversation"
)

// Rejection reasons of the RuleClassifier.
const (
	ReasonBlockedTerm  = "message contains a prohibited term"
	ReasonContactEmail = "sharing e-mail addresses is not allowed"
	ReasonContactPhone = "sharing phone numbers is not allowed"
	ReasonEmojiFlood   = "message contains too many emoji"
)

// phoneCandidate matches runs that could be a phone number once parsed.
var phoneCandidate = regexp.MustCompile(`\+?\d[\d\s().-]{5,}\d`)

// RuleClassifier is a local Classifier that keeps negotiations on platform:
// it rejects prohibited terms, e-mail addresses, phone numbers and emoji
// floods. Its zero value approves everything except contact details.
type RuleClassifier struct {
	// BlockedTerms are matched case-insensitively against the text with emoji
	// removed.
	BlockedTerms []string

	// Region is the default region for numbers without a country code.
	Region string

	// AllowContacts disables the e-mail and phone checks.
	AllowContacts bool

	// MaxEmoji is the number of emoji allowed in one message; zero means no
	// limit.
	MaxEmoji int
}

// DefaultRegion is used when RuleClassifier.Region is empty.
const DefaultRegion = "US"

// Classify applies the rules to the message content.
func (rc *RuleClassifier) Classify(_ context.Context,
	m conversation.Message) (Decision, error) {
	text := m.Content
	if text == "" {
		return Approve, nil
	}

	if rc.MaxEmoji > 0 && len(gomoji.CollectAll(text)) > rc.MaxEmoji {
		return Reject(ReasonEmojiFlood), nil
	}

	normalised := strings.ToLower(gomoji.RemoveEmojis(text))
	for _, term := range rc.BlockedTerms {
		if term != "" && strings.Contains(normalised, strings.ToLower(term)) {
			return Reject(ReasonBlockedTerm), nil
		}
	}

	if rc.AllowContacts {
		return Approve, nil
	}
	if containsEmail(normalised) {
		return Reject(ReasonContactEmail), nil
	}
	if rc.containsPhone(normalised) {
		return Reject(ReasonContactPhone), nil
	}
	return Approve, nil
}

func containsEmail(text string) bool {
	for _, word := range strings.Fields(text) {
		if !strings.Contains(word, "@") {
			continue
		}
		word = strings.Trim(word, `.,;:!?()[]<>"'`)
		if checkmail.ValidateFormat(word) == nil {
			return true
		}
	}
	return false
}

func (rc *RuleClassifier) containsPhone(text string) bool {
	region := rc.Region
	if region == "" {
		region = DefaultRegion
	}
	for _, candidate := range phoneCandidate.FindAllString(text, -1) {
		num, err := libphonenumber.Parse(candidate, region)
		if err == nil && libphonenumber.IsValidNumber(num) {
			return true
		}
	}
	return false
}
