package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/chzyer/readline"

	"otrkit/internal/domain"
	"otrkit/pkg/otrkit"
)

// quietDelegate backs the one-shot commands, which never talk to a peer.
type quietDelegate struct{}

func (quietDelegate) InjectMessage(otrkit.ConversationKey, string, any) {}
func (quietDelegate) EncodedMessage(otrkit.ConversationKey, string, bool, any, error) {}
func (quietDelegate) DecodedMessage(otrkit.ConversationKey, string, bool, []otrkit.TLV, any) {
}
func (quietDelegate) UpdateMessageState(otrkit.ConversationKey, otrkit.MessageState) {}
func (quietDelegate) IsLoggedIn(otrkit.ConversationKey) bool { return false }
func (quietDelegate) ShowFingerprintConfirmation(otrkit.ConversationKey, otrkit.Fingerprint, otrkit.Fingerprint) {
}
func (quietDelegate) FingerprintVerifiedStateChanged(otrkit.ConversationKey, bool) {}
func (quietDelegate) HandleSMPEvent(otrkit.ConversationKey, otrkit.SMPEvent, int, string, error) {
}
func (quietDelegate) HandleMessageEvent(otrkit.ConversationKey, otrkit.MessageEvent, string, any, error) {
}
func (quietDelegate) ReceivedSymmetricKey(otrkit.ConversationKey, []byte, uint32, []byte) {}

// console prints above the readline prompt.
type console struct {
	mu sync.Mutex
	rl *readline.Instance
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rl.Clean()
	fmt.Printf(format+"\n", args...)
	c.rl.Refresh()
}

// chatDelegate sends injected messages through the relay and reports
// everything else on the console.
type chatDelegate struct {
	ctx   context.Context
	ui    *console
	relay domain.RelayClient
}

var (
	_ otrkit.Delegate              = (*chatDelegate)(nil)
	_ otrkit.KeyGenerationObserver = (*chatDelegate)(nil)
)

func (d *chatDelegate) InjectMessage(key otrkit.ConversationKey, message string, _ any) {
	env := domain.Envelope{
		From:     domain.Username(key.Account),
		To:       domain.Username(key.Username),
		Protocol: key.Protocol,
		Body:     message,
	}
	if err := d.relay.SendMessage(d.ctx, env); err != nil {
		d.ui.printf("! relay: %v", err)
	}
}

func (d *chatDelegate) EncodedMessage(key otrkit.ConversationKey, _ string, _ bool, _ any, err error) {
	if err != nil {
		d.ui.printf("! not sent to %s: %s", key.Username, otrkit.Describe(err))
	}
}

func (d *chatDelegate) DecodedMessage(key otrkit.ConversationKey, plaintext string, encrypted bool, _ []otrkit.TLV, _ any) {
	if plaintext == "" {
		return
	}
	label := "plain"
	if encrypted {
		label = "private"
	}
	d.ui.printf("[%s %s] %s", key.Username, label, plaintext)
}

func (d *chatDelegate) UpdateMessageState(key otrkit.ConversationKey, state otrkit.MessageState) {
	d.ui.printf("* conversation with %s is now %s", key.Username, state)
}

func (d *chatDelegate) IsLoggedIn(otrkit.ConversationKey) bool { return true }

func (d *chatDelegate) ShowFingerprintConfirmation(key otrkit.ConversationKey, theirs, ours otrkit.Fingerprint) {
	d.ui.printf("* new fingerprint for %s:\n    theirs: %s\n    ours:   %s\n  compare out of band, then /trust",
		key.Username, theirs.Human(), ours.Human())
}

func (d *chatDelegate) FingerprintVerifiedStateChanged(key otrkit.ConversationKey, verified bool) {
	if verified {
		d.ui.printf("* fingerprint of %s is verified", key.Username)
		return
	}
	d.ui.printf("* fingerprint of %s is no longer verified", key.Username)
}

func (d *chatDelegate) HandleSMPEvent(key otrkit.ConversationKey, ev otrkit.SMPEvent, progress int, question string, err error) {
	switch ev {
	case otrkit.SMPEventAskForAnswer:
		d.ui.printf("* %s asks: %s\n  reply with /answer ANSWER", key.Username, question)
	case otrkit.SMPEventAskForSecret:
		d.ui.printf("* %s wants to check a shared secret\n  reply with /answer SECRET", key.Username)
	case otrkit.SMPEventInProgress:
		d.ui.printf("* authenticating %s (%d%%)", key.Username, progress)
	case otrkit.SMPEventSuccess:
		d.ui.printf("* %s authenticated", key.Username)
	case otrkit.SMPEventFailure, otrkit.SMPEventCheated:
		d.ui.printf("* authentication of %s failed", key.Username)
	case otrkit.SMPEventAbort:
		d.ui.printf("* authentication with %s aborted", key.Username)
	default:
		d.ui.printf("* authentication with %s: %s", key.Username, otrkit.Describe(err))
	}
}

func (d *chatDelegate) HandleMessageEvent(key otrkit.ConversationKey, ev otrkit.MessageEvent, message string, _ any, err error) {
	if err != nil {
		d.ui.printf("* %s (%s): %s", ev, key.Username, otrkit.Describe(err))
		return
	}
	d.ui.printf("* %s (%s) %s", ev, key.Username, message)
}

func (d *chatDelegate) ReceivedSymmetricKey(key otrkit.ConversationKey, _ []byte, use uint32, _ []byte) {
	d.ui.printf("* %s derived the extra symmetric key for use %d", key.Username, use)
}

func (d *chatDelegate) WillStartGeneratingKey(account otrkit.AccountKey) {
	d.ui.printf("* generating a key for %s, this can take a moment", account.Account)
}

func (d *chatDelegate) DidFinishGeneratingKey(account otrkit.AccountKey, fp otrkit.Fingerprint, err error) {
	if err != nil {
		d.ui.printf("! key generation for %s failed: %s", account.Account, otrkit.Describe(err))
		return
	}
	d.ui.printf("* key for %s ready: %s", account.Account, fp.Human())
}
