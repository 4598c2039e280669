package boundary

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/oracle"
)

const (
	// wsOutBuffer is the per-connection outbound frame buffer. When a
	// client falls behind, subscription pushes are shed; request-scoped
	// frames instead block their producer until the writer drains.
	wsOutBuffer = 64

	// voiceChunkBytes caps the raw audio bytes per voice_chunk frame
	// before base64 expansion.
	voiceChunkBytes = 16384
)

// wsTopics maps the subscription names clients use to bus topics.
var wsTopics = map[string]string{
	"world_events":      bus.TopicWorldEvent,
	"faction_updates":   bus.TopicFactionUpdate,
	"territory_updates": bus.TopicTerritoryUpdate,
	"quest_updates":     bus.TopicQuestUpdate,
}

// wsEventType maps a bus topic to the server frame type it arrives as.
var wsEventType = map[string]string{
	bus.TopicWorldEvent:      "world_event",
	bus.TopicFactionUpdate:   "faction_update",
	bus.TopicTerritoryUpdate: "territory_update",
	bus.TopicQuestUpdate:     "quest_update",
}

// clientFrame is the union of every client→server frame. Type selects
// the operation; unused fields stay zero.
type clientFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	AgentID    string `json:"agent_id,omitempty"`
	Text       string `json:"text,omitempty"`
	PlayerName string `json:"player_name,omitempty"`

	AudioBase64 string `json:"audio_base64,omitempty"`
	Language    string `json:"language,omitempty"`

	Topics []string `json:"topics,omitempty"`
	Limit  int      `json:"limit,omitempty"`

	Zone   string  `json:"zone,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Z      float64 `json:"z,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	GroupID   string   `json:"group_id,omitempty"`
	NPCIDs    []string `json:"npc_ids,omitempty"`
	NPCID     string   `json:"npc_id,omitempty"`
	TargetNPC string   `json:"target_npc,omitempty"`
	Location  string   `json:"location,omitempty"`
}

// serverFrame is a loose outbound frame; every one carries "type" and,
// when the client sent one, the echoed "request_id".
type serverFrame map[string]any

// wsSession is one connected game client.
type wsSession struct {
	server     *Server
	playerID   string
	playerName string

	out chan serverFrame

	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

// handleWS upgrades GET /ws/game and runs the session until the client
// leaves or the server shuts down. One reader loop, one writer loop;
// Oracle-bound frames dispatch on the pool so reads never stall behind
// a slow provider.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		writeError(w, badRequest("player_id query parameter is required"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("boundary: ws accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &wsSession{
		server:     s,
		playerID:   playerID,
		playerName: r.URL.Query().Get("player_name"),
		out:        make(chan serverFrame, wsOutBuffer),
		subs:       make(map[string]*bus.Subscription),
	}
	s.metrics.WSConnections.Add(ctx, 1)
	defer s.metrics.WSConnections.Add(context.WithoutCancel(ctx), -1)
	defer sess.unsubscribeAll()

	// Writer loop. Owns every write on the connection.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-sess.out:
				if err := wsjson.Write(ctx, conn, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	sess.deliver(ctx, serverFrame{"type": "connected", "player_id": playerID})
	slog.Info("boundary: ws client connected", "player", playerID)

	// Reader loop.
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			break
		}
		sess.handle(ctx, frame)
	}

	cancel()
	wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "session over")
	slog.Info("boundary: ws client disconnected", "player", playerID)
}

// send queues a frame if there is room, dropping it when the client is
// too far behind. Bus subscription pushes ride this path; a stale
// world_event matters less than a stalled reader loop.
func (sess *wsSession) send(ctx context.Context, frame serverFrame) {
	select {
	case sess.out <- frame:
	case <-ctx.Done():
	default:
		slog.Debug("boundary: ws frame dropped, client behind", "player", sess.playerID, "type", frame["type"])
	}
}

// deliver queues a frame and waits for buffer space. Request replies,
// error frames and voice chunks must all reach the client, in order
// and without holes, so their producers block until the writer drains
// or the session tears down.
func (sess *wsSession) deliver(ctx context.Context, frame serverFrame) {
	select {
	case sess.out <- frame:
	case <-ctx.Done():
	}
}

// reply echoes the request id onto a response frame and delivers it.
func (sess *wsSession) reply(ctx context.Context, requestID string, frame serverFrame) {
	if requestID != "" {
		frame["request_id"] = requestID
	}
	sess.deliver(ctx, frame)
}

func (sess *wsSession) fail(ctx context.Context, requestID string, err error) {
	ae := classify(err)
	sess.reply(ctx, requestID, serverFrame{
		"type":      "error",
		"kind":      ae.kind,
		"message":   ae.message,
		"retryable": ae.retryable,
	})
}

// handle routes one client frame. Cheap reads run inline on the reader
// loop; anything that can touch the Oracle runs detached so the next
// frame is read immediately.
func (sess *wsSession) handle(ctx context.Context, frame clientFrame) {
	switch frame.Type {
	case "ping":
		sess.reply(ctx, frame.RequestID, serverFrame{"type": "pong"})

	case "subscribe_events":
		sess.subscribe(ctx, frame)
	case "unsubscribe_events":
		sess.unsubscribe(ctx, frame)

	case "npc_status":
		sess.npcStatus(ctx, frame)
	case "get_factions":
		sess.getFactions(ctx, frame)
	case "get_world_events":
		sess.getWorldEvents(ctx, frame)
	case "update_location":
		sess.updateLocation(ctx, frame)
	case "get_nearby_npcs":
		sess.nearbyNPCs(ctx, frame)
	case "get_conversation":
		if sess.server.deps.Groups == nil {
			sess.fail(ctx, frame.RequestID, badRequest("conversations are not enabled"))
			return
		}
		sess.getConversation(ctx, frame)

	case "npc_action":
		go sess.npcAction(ctx, frame)
	case "voice_generate":
		go sess.voiceGenerate(ctx, frame)
	case "speech_transcribe":
		go sess.speechTranscribe(ctx, frame)

	case "start_conversation", "conversation_message", "add_npc_to_conversation",
		"remove_npc_from_conversation", "end_conversation":
		if sess.server.deps.Groups == nil {
			sess.fail(ctx, frame.RequestID, badRequest("conversations are not enabled"))
			return
		}
		switch frame.Type {
		case "start_conversation":
			sess.startConversation(ctx, frame)
		case "conversation_message":
			go sess.conversationMessage(ctx, frame)
		case "add_npc_to_conversation":
			sess.conversationAddNPC(ctx, frame)
		case "remove_npc_from_conversation":
			sess.conversationRemoveNPC(ctx, frame)
		case "end_conversation":
			sess.endConversation(ctx, frame)
		}

	default:
		sess.fail(ctx, frame.RequestID, badRequest("unknown frame type "+frame.Type))
	}
}

// ─── Subscriptions ───────────────────────────────────────────────────────────

func (sess *wsSession) subscribe(ctx context.Context, frame clientFrame) {
	if sess.server.deps.Bus == nil {
		sess.fail(ctx, frame.RequestID, badRequest("event bus is not enabled"))
		return
	}
	var added []string
	for _, name := range frame.Topics {
		topic, ok := wsTopics[name]
		if !ok {
			sess.fail(ctx, frame.RequestID, badRequest("unknown subscription topic "+name))
			return
		}
		sess.mu.Lock()
		if _, dup := sess.subs[name]; dup {
			sess.mu.Unlock()
			continue
		}
		sub := sess.server.deps.Bus.Subscribe(topic)
		sess.subs[name] = sub
		sess.mu.Unlock()
		added = append(added, name)

		go sess.pump(ctx, sub)
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "subscribed", "topics": added})
}

// pump bridges one bus subscription onto the outbound channel until the
// session ends or the subscription closes.
func (sess *wsSession) pump(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Ch():
			if !ok {
				return
			}
			sess.send(ctx, serverFrame{
				"type":    wsEventType[evt.Topic],
				"payload": evt.Payload,
			})
		}
	}
}

func (sess *wsSession) unsubscribe(ctx context.Context, frame clientFrame) {
	var removed []string
	sess.mu.Lock()
	for _, name := range frame.Topics {
		if sub, ok := sess.subs[name]; ok {
			sess.server.deps.Bus.Unsubscribe(sub)
			delete(sess.subs, name)
			removed = append(removed, name)
		}
	}
	sess.mu.Unlock()
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "unsubscribed", "topics": removed})
}

func (sess *wsSession) unsubscribeAll() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for name, sub := range sess.subs {
		sess.server.deps.Bus.Unsubscribe(sub)
		delete(sess.subs, name)
	}
}

// ─── NPC operations ──────────────────────────────────────────────────────────

func (sess *wsSession) npcAction(ctx context.Context, frame clientFrame) {
	a, err := sess.resolve(ctx, frame.AgentID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	playerName := frame.PlayerName
	if playerName == "" {
		playerName = sess.playerName
	}

	var res serverFrame
	err = sess.server.dispatch(ctx, func() error {
		out, perr := sess.server.deps.Brain.Process(ctx, a, sess.playerID, playerName, frame.Text)
		if perr != nil {
			return perr
		}
		res = serverFrame{
			"type":       "npc_response",
			"agent_id":   frame.AgentID,
			"dialogue":   out.Frame.Dialogue,
			"intent":     string(out.Frame.Intent),
			"mood":       string(out.Mood.Label),
			"urgency":    out.Frame.Urgency,
			"fallback":   out.Outcome == oracle.OutcomeFallback,
			"reputation": out.Reputation,
		}
		return nil
	})
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, res)
}

func (sess *wsSession) npcStatus(ctx context.Context, frame clientFrame) {
	a, err := sess.resolve(ctx, frame.AgentID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	state, err := a.Snapshot(ctx)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{
		"type":  "npc_status_response",
		"agent": viewAgent(state),
	})
}

// resolve is the WS flavor of resolveAgent.
func (sess *wsSession) resolve(ctx context.Context, id string) (*agent.Agent, error) {
	if id == "" {
		return nil, badRequest("agent_id is required")
	}
	a, err := sess.server.deps.Registry.Get(id)
	if err == nil {
		return a, nil
	}
	if _, serr := sess.server.deps.Store.GetAgent(ctx, id); serr == nil {
		return nil, &apiError{
			kind: KindAgentUninitialized, status: http.StatusConflict,
			message: "agent " + id + " exists but is not initialized",
		}
	}
	return nil, &apiError{
		kind: KindAgentUnknown, status: http.StatusNotFound,
		message: "unknown agent " + id,
	}
}

// ─── Voice ───────────────────────────────────────────────────────────────────

// voiceGenerate synthesizes speech and streams it back in bounded
// base64 chunks so one long line cannot monopolize the socket.
func (sess *wsSession) voiceGenerate(ctx context.Context, frame clientFrame) {
	a, err := sess.resolve(ctx, frame.AgentID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	if frame.Text == "" {
		sess.fail(ctx, frame.RequestID, badRequest("text is required"))
		return
	}
	state, err := a.Snapshot(ctx)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}

	var audio []byte
	err = sess.server.dispatch(ctx, func() error {
		var serr error
		audio, serr = sess.server.deps.Oracle.Synthesize(ctx, state.VoiceFingerprint, frame.Text, state.Mood)
		return serr
	})
	if err != nil {
		sess.fail(ctx, frame.RequestID, voiceProviderError(err))
		return
	}

	total := (len(audio) + voiceChunkBytes - 1) / voiceChunkBytes
	for i := 0; i < total; i++ {
		end := min((i+1)*voiceChunkBytes, len(audio))
		sess.reply(ctx, frame.RequestID, serverFrame{
			"type":         "voice_chunk",
			"agent_id":     frame.AgentID,
			"chunk_index":  i,
			"total_chunks": total,
			"audio_base64": base64.StdEncoding.EncodeToString(audio[i*voiceChunkBytes : end]),
		})
	}
	sess.reply(ctx, frame.RequestID, serverFrame{
		"type":       "voice_complete",
		"agent_id":   frame.AgentID,
		"total_size": len(audio),
	})
}

func (sess *wsSession) speechTranscribe(ctx context.Context, frame clientFrame) {
	audio, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
	if err != nil || len(audio) == 0 {
		sess.fail(ctx, frame.RequestID, badRequest("audio_base64 must be non-empty valid base64"))
		return
	}

	var text string
	err = sess.server.dispatch(ctx, func() error {
		var terr error
		text, terr = sess.server.deps.Oracle.Transcribe(ctx, audio, frame.Language)
		return terr
	})
	if err != nil {
		sess.fail(ctx, frame.RequestID, voiceProviderError(err))
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "transcription", "text": text})
}

// ─── World reads ─────────────────────────────────────────────────────────────

func (sess *wsSession) getFactions(ctx context.Context, frame clientFrame) {
	factions, err := sess.server.deps.Store.ListFactions(ctx)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	out := make([]serverFrame, 0, len(factions))
	for _, f := range factions {
		out = append(out, serverFrame{
			"id": f.ID, "name": f.Name, "values": f.Values, "resources": f.Resources,
		})
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "factions", "factions": out})
}

func (sess *wsSession) getWorldEvents(ctx context.Context, frame clientFrame) {
	limit := frame.Limit
	if limit <= 0 {
		limit = 20
	}
	events, err := sess.server.deps.Store.ListWorldEvents(ctx, limit)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	out := make([]serverFrame, 0, len(events))
	for _, e := range events {
		out = append(out, serverFrame{"id": e.ID, "ts": e.TS, "kind": e.Kind, "payload": e.Payload})
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "world_events", "events": out})
}

func (sess *wsSession) updateLocation(ctx context.Context, frame clientFrame) {
	if sess.server.deps.Proximity == nil {
		sess.fail(ctx, frame.RequestID, badRequest("proximity tracking is not enabled"))
		return
	}
	if frame.Zone == "" {
		sess.fail(ctx, frame.RequestID, badRequest("zone is required"))
		return
	}
	sess.server.deps.Proximity.UpdatePlayer(sess.playerID, frame.Zone, frame.X, frame.Y, frame.Z)
	sess.reply(ctx, frame.RequestID, serverFrame{
		"type": "location_updated", "zone": frame.Zone,
	})
}

func (sess *wsSession) nearbyNPCs(ctx context.Context, frame clientFrame) {
	if sess.server.deps.Proximity == nil {
		sess.fail(ctx, frame.RequestID, badRequest("proximity tracking is not enabled"))
		return
	}
	radius := frame.Radius
	if radius <= 0 {
		radius = 50
	}
	ids := sess.server.deps.Proximity.Nearby(sess.playerID, radius)
	npcs := make([]serverFrame, 0, len(ids))
	for _, id := range ids {
		a, err := sess.server.deps.Registry.Get(id)
		if err != nil {
			continue
		}
		state, err := a.Snapshot(ctx)
		if err != nil {
			continue
		}
		npcs = append(npcs, serverFrame{
			"id": state.ID, "name": state.Name, "role": state.Role,
			"zone": state.Zone, "mood": string(state.Mood.Label),
		})
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "nearby_npcs", "npcs": npcs})
}

// ─── Conversations ───────────────────────────────────────────────────────────

func (sess *wsSession) startConversation(ctx context.Context, frame clientFrame) {
	snap, err := sess.server.deps.Groups.Start(ctx, sess.playerID, sess.playerName, frame.NPCIDs, frame.Location)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "conversation_started", "conversation": snap})
}

func (sess *wsSession) conversationMessage(ctx context.Context, frame clientFrame) {
	if frame.GroupID == "" || frame.Text == "" {
		sess.fail(ctx, frame.RequestID, badRequest("group_id and text are required"))
		return
	}
	var result serverFrame
	err := sess.server.dispatch(ctx, func() error {
		turn, merr := sess.server.deps.Groups.Message(ctx, frame.GroupID, frame.Text, frame.TargetNPC)
		if merr != nil {
			return merr
		}
		result = serverFrame{
			"type":      "conversation_response",
			"group_id":  turn.GroupID,
			"responses": turn.Responses,
			"tension":   turn.Tension,
		}
		return nil
	})
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, result)
}

func (sess *wsSession) conversationAddNPC(ctx context.Context, frame clientFrame) {
	snap, err := sess.server.deps.Groups.AddAgent(ctx, frame.GroupID, frame.NPCID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "conversation_updated", "conversation": snap})
}

func (sess *wsSession) conversationRemoveNPC(ctx context.Context, frame clientFrame) {
	snap, err := sess.server.deps.Groups.RemoveAgent(ctx, frame.GroupID, frame.NPCID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "conversation_updated", "conversation": snap})
}

func (sess *wsSession) endConversation(ctx context.Context, frame clientFrame) {
	snap, err := sess.server.deps.Groups.End(ctx, frame.GroupID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "conversation_ended", "conversation": snap})
}

func (sess *wsSession) getConversation(ctx context.Context, frame clientFrame) {
	snap, err := sess.server.deps.Groups.Get(frame.GroupID)
	if err != nil {
		sess.fail(ctx, frame.RequestID, err)
		return
	}
	sess.reply(ctx, frame.RequestID, serverFrame{"type": "conversation_state", "conversation": snap})
}
