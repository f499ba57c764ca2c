package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"otrkit/internal/domain"
	"otrkit/pkg/otrkit"
)

const chatHelp = `Type to send. Commands:
  /otr               start a private conversation
  /end               end it
  /smp SECRET        authenticate with a shared secret
  /ask QUESTION | ANSWER
                     authenticate with a question only they can answer
  /answer SECRET     answer their authentication request
  /abort             abort authentication
  /fp                show fingerprints
  /trust             mark their current fingerprint verified
  /status            show the conversation state
  /quit              leave`

var errQuit = errors.New("quit")

// input is one parsed line of the chat prompt.
type input struct {
	verb     string
	text     string
	question string
}

func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return input{verb: "say", text: line}, nil
	}
	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	in := input{verb: strings.ToLower(verb), text: rest}
	switch in.verb {
	case "smp", "answer":
		if rest == "" {
			return input{}, fmt.Errorf("/%s needs a secret", in.verb)
		}
	case "ask":
		q, a, ok := strings.Cut(rest, "|")
		q, a = strings.TrimSpace(q), strings.TrimSpace(a)
		if !ok || q == "" || a == "" {
			return input{}, errors.New("usage: /ask QUESTION | ANSWER")
		}
		in.question, in.text = q, a
	case "otr", "end", "abort", "fp", "trust", "status", "quit", "help":
	default:
		return input{}, fmt.Errorf("unknown command /%s", in.verb)
	}
	return in, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat PEER",
		Short: "Chat with PEER over the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := accountKey()
			if err != nil {
				return err
			}
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          args[0] + "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
			})
			if err != nil {
				return err
			}
			defer func() { _ = rl.Close() }()
			ui := &console{rl: rl}

			kit, err := w.NewKit(&chatDelegate{ctx: ctx, ui: ui, relay: w.Relay}, nil)
			if err != nil {
				return err
			}
			defer kit.Close()

			go func() {
				if err := w.ServeMetrics(ctx); err != nil {
					ui.printf("! metrics: %v", err)
				}
			}()

			sub, err := w.Relay.Subscribe(ctx, domain.Username(acct.Account))
			if err != nil {
				return err
			}
			go receive(ctx, kit, ui, sub)

			ui.printf("%s", chatHelp)
			peer := conversationKey(args[0])
			for {
				line, err := rl.Readline()
				if err != nil {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				in, err := parseInput(line)
				if err != nil {
					ui.printf("! %v", err)
					continue
				}
				err = run(ctx, kit, ui, peer, in)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					ui.printf("! %s", otrkit.Describe(err))
				}
			}
		},
	}
}

func receive(ctx context.Context, kit *otrkit.Kit, ui *console, sub <-chan domain.Envelope) {
	for env := range sub {
		if env.Protocol != "" && env.Protocol != protocol {
			continue
		}
		key := conversationKey(string(env.From))
		if err := kit.DecodeMessage(ctx, key, env.Body, otrkit.ModeAsync, nil); err != nil {
			ui.printf("! %s", otrkit.Describe(err))
		}
	}
	if ctx.Err() == nil {
		ui.printf("! relay connection lost")
	}
}

func run(ctx context.Context, kit *otrkit.Kit, ui *console, peer otrkit.ConversationKey, in input) error {
	switch in.verb {
	case "say":
		return kit.EncodeMessage(ctx, peer, in.text, nil, otrkit.ModeAsync, nil)
	case "otr":
		return kit.InitiateEncryption(ctx, peer, otrkit.ModeAsync)
	case "end":
		return kit.DisableEncryption(ctx, peer, otrkit.ModeAsync)
	case "smp":
		return kit.InitiateSMP(ctx, peer, otrkit.SMPMethodSharedSecret, []byte(in.text), "")
	case "ask":
		return kit.InitiateSMP(ctx, peer, otrkit.SMPMethodQuestionAndAnswer, []byte(in.text), in.question)
	case "answer":
		return kit.RespondToSMP(ctx, peer, []byte(in.text))
	case "abort":
		kit.AbortSMP(peer)
	case "fp":
		if ours, ok := kit.LocalFingerprint(peer.AccountKey()); ok {
			ui.printf("ours:   %s", ours.Human())
		}
		if rec, ok := kit.ActiveFingerprint(peer); ok {
			ui.printf("theirs: %s (%s)", rec.Fingerprint.Human(), trustLabel(rec))
		} else {
			ui.printf("theirs: unknown, start with /otr")
		}
	case "trust":
		rec, ok := kit.ActiveFingerprint(peer)
		if !ok {
			return domain.NewError(domain.KindValidation, "trust", peer, domain.ErrUnknownFingerprint)
		}
		return kit.SetFingerprintVerified(rec, true)
	case "status":
		ui.printf("state: %s, offer: %s, verified: %t",
			kit.MessageState(peer), kit.OfferState(peer), kit.ActiveFingerprintIsVerified(peer))
		if s, ok := kit.SMPSession(peer); ok {
			ui.printf("authentication: %s as %s", s.State, s.Role)
		}
	case "help":
		ui.printf("%s", chatHelp)
	case "quit":
		return errQuit
	}
	return nil
}
