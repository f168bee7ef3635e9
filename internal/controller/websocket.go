package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/indexererr"
	"github.com/vnavascues/substrate-watcher/internal/writer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pingPeriod     = 30 * time.Second
	readDeadline   = 60 * time.Second
	progressPeriod = 5 * time.Second
)

// Server upgrades HTTP connections into the bidirectional session
// protocol: upgrader config, ping/pong keepalive, and panic-recovering
// read/write pumps.
type Server struct {
	registry *Registry
	writer   *writer.Writer
	log      *slog.Logger
}

func NewServer(registry *Registry, w *writer.Writer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{registry: registry, writer: w, log: log}
}

// ServeHTTP handles one client connection's full lifetime: attach through
// disconnect cleanup.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("controller: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := s.registry.Create()
	s.log.Info("controller: session attached", "session_id", session.ID, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan Envelope, 256)
	var wg sync.WaitGroup

	wg.Add(3)
	go func() { defer wg.Done(); defer s.recoverPanic("ping"); s.sendPings(ctx, conn) }()
	go func() { defer wg.Done(); defer s.recoverPanic("write"); s.writeEnvelopes(conn, send) }()
	go func() { defer wg.Done(); defer s.recoverPanic("progress"); s.pumpProgress(ctx, session, send) }()

	s.readCommands(ctx, session, conn, cancel, send)

	close(send)
	wg.Wait()

	s.registry.Close(context.Background(), session.ID)
	s.log.Info("controller: session detached", "session_id", session.ID)
}

func (s *Server) recoverPanic(name string) {
	if rec := recover(); rec != nil {
		s.log.Error("controller: panic in pump goroutine", "pump", name, "panic", rec, "stack", string(debug.Stack()))
	}
}

func (s *Server) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// pumpProgress periodically emits one "progress" event per running worker,
// plus a "checkpoint" event whenever a worker's checkpoint has advanced
// since the previous tick.
func (s *Server) pumpProgress(ctx context.Context, session *Session, send chan<- Envelope) {
	type progressKey struct {
		account domain.PubKey
		stream  domain.Stream
	}

	ticker := time.NewTicker(progressPeriod)
	defer ticker.Stop()
	last := make(map[progressKey]uint64)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range session.Status() {
				key := progressKey{account: st.Account, stream: st.Stream}
				progress := Envelope{
					Type:      EventProgress,
					SessionID: string(session.ID),
					Payload: ProgressPayload{
						Account: st.Account.String(),
						Stream:  st.Stream,
						Height:  st.LastCheckpoint,
						Target:  st.TargetHeight,
						Rate:    st.RateBlocksPerSec,
					},
				}
				select {
				case send <- progress:
				case <-ctx.Done():
					return
				}

				if prev, ok := last[key]; !ok || st.LastCheckpoint > prev {
					last[key] = st.LastCheckpoint
					cp := Envelope{
						Type:      EventCheckpoint,
						SessionID: string(session.ID),
						Payload: CheckpointEventPayload{
							Account: st.Account.String(),
							Stream:  st.Stream,
							Height:  st.LastCheckpoint,
						},
					}
					select {
					case send <- cp:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

func (s *Server) writeEnvelopes(conn *websocket.Conn, send <-chan Envelope) {
	for env := range send {
		if err := conn.WriteJSON(env); err != nil {
			s.log.Error("controller: write failed", "error", err)
			return
		}
	}
}

func (s *Server) readCommands(ctx context.Context, session *Session, conn *websocket.Conn, cancel context.CancelFunc, send chan<- Envelope) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			cancel()
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		resp := s.dispatch(ctx, session, env)
		select {
		case send <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, session *Session, env Envelope) Envelope {
	reply := Envelope{SessionID: string(session.ID), RequestID: env.RequestID}

	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
	}

	switch env.Type {
	case CmdAttach:
		var p AttachPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		accounts, err := decodeAccounts(p.Chain, p.Accounts)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		if err := session.Attach(ctx, p.Chain, accounts); err != nil {
			return errEnvelope(reply, err)
		}
		return ackEnvelope(reply)

	case CmdPause:
		session.Pause()
		return ackEnvelope(reply)

	case CmdResume:
		session.Resume()
		return ackEnvelope(reply)

	case CmdDetach:
		session.Stop()
		return ackEnvelope(reply)

	case CmdAddAccount:
		var p AddAccountPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		pk, err := domain.ParsePubKey(p.PubKey)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		acct := domain.WatchedAccount{Chain: p.Chain, PubKey: pk, StartBlock: p.StartBlock}
		if err := session.AddAccount(ctx, p.Chain, acct); err != nil {
			return errEnvelope(reply, err)
		}
		return ackEnvelope(reply)

	case CmdRemoveAccount:
		var p RemoveAccountPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		pk, err := domain.ParsePubKey(p.PubKey)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		session.RemoveAccount(p.Chain, pk)
		return ackEnvelope(reply)

	case CmdResetHistory:
		var p ResetHistoryPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		pk, err := domain.ParsePubKey(p.PubKey)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassBadRequest, err))
		}
		if s.writer != nil {
			if err := s.writer.DeleteHistory(ctx, p.Chain, pk); err != nil {
				return errEnvelope(reply, indexererr.New(indexererr.ClassStorage, err))
			}
		}
		if cps := s.registry.deps.Checkpoints; cps != nil {
			for _, stream := range []domain.Stream{domain.StreamExtrinsics, domain.StreamStaking} {
				if err := cps.Delete(ctx, p.Chain, pk, stream); err != nil {
					return errEnvelope(reply, indexererr.New(indexererr.ClassStorage, err))
				}
			}
		}
		return ackEnvelope(reply)

	case CmdQueryExtrinsics:
		p, pk, err := decodeRangeQuery(raw)
		if err != nil {
			return errEnvelope(reply, err)
		}
		if s.writer == nil {
			return errEnvelope(reply, indexererr.Newf(indexererr.ClassStorage, "no writer configured"))
		}
		records, err := s.writer.QueryExtrinsics(ctx, p.Chain, pk, p.FromHeight, p.ToHeight, p.FromTime, p.ToTime)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassStorage, err))
		}
		reply.Type = EventRecords
		reply.Payload = RecordsPayload{Stream: domain.StreamExtrinsics, Extrinsics: records}
		return reply

	case CmdQueryStaking:
		p, pk, err := decodeRangeQuery(raw)
		if err != nil {
			return errEnvelope(reply, err)
		}
		if s.writer == nil {
			return errEnvelope(reply, indexererr.Newf(indexererr.ClassStorage, "no writer configured"))
		}
		records, err := s.writer.QueryStaking(ctx, p.Chain, pk, p.FromHeight, p.ToHeight, p.FromTime, p.ToTime)
		if err != nil {
			return errEnvelope(reply, indexererr.New(indexererr.ClassStorage, err))
		}
		reply.Type = EventRecords
		reply.Payload = RecordsPayload{Stream: domain.StreamStaking, Staking: records}
		return reply

	case CmdStatus:
		reply.Type = EventAck
		reply.Payload = AckPayload{OK: true, Status: session.Status()}
		return reply

	default:
		return errEnvelope(reply, indexererr.Newf(indexererr.ClassBadRequest, "unknown command %q", env.Type))
	}
}

func decodeRangeQuery(raw []byte) (RangeQueryPayload, *domain.PubKey, error) {
	var p RangeQueryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, nil, indexererr.New(indexererr.ClassBadRequest, err)
	}
	if p.PubKey == "" {
		return p, nil, nil
	}
	pk, err := domain.ParsePubKey(p.PubKey)
	if err != nil {
		return p, nil, indexererr.New(indexererr.ClassBadRequest, err)
	}
	return p, &pk, nil
}

func ackEnvelope(reply Envelope) Envelope {
	reply.Type = EventAck
	reply.Payload = AckPayload{OK: true}
	return reply
}

func decodeAccounts(chain domain.ChainID, payloads []AccountPayload) ([]domain.WatchedAccount, error) {
	out := make([]domain.WatchedAccount, 0, len(payloads))
	for _, p := range payloads {
		pk, err := domain.ParsePubKey(p.PubKey)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.WatchedAccount{Chain: chain, PubKey: pk, Label: p.Label, StartBlock: p.StartBlock})
	}
	return out, nil
}

func errEnvelope(reply Envelope, err error) Envelope {
	reply.Type = EventError
	reply.Payload = indexererr.ToWire(err, false, nil)
	return reply
}
