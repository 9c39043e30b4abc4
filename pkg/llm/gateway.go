package llm

import (
	"context"
	"fmt"
	"sync/atomic"

	"waris-go/internal/config"
	"waris-go/internal/model"
	"waris-go/pkg/guardrails"
	"waris-go/pkg/log"
)

// WARISSystemPrompt is the default persona for the water-loss assistant.
const WARISSystemPrompt = `คุณคือผู้ช่วย AI ของระบบ WARIS (Water Loss Intelligent Analysis and Reporting System)
สำหรับการประปาส่วนภูมิภาค (กปภ.)

หน้าที่ของคุณ:
1. ตอบคำถามเกี่ยวกับน้ำสูญเสีย (Water Loss / NRW - Non-Revenue Water)
2. อธิบายข้อมูลจาก DMA (District Metered Area) และพื้นที่จ่ายน้ำย่อย
3. ให้คำแนะนำในการลดน้ำสูญเสียตามมาตรฐาน IWA
4. วิเคราะห์แนวโน้มและรูปแบบการใช้น้ำ
5. อธิบายรายงานและการแจ้งเตือนจากระบบ

คำศัพท์สำคัญ:
- NRW (Non-Revenue Water) = น้ำสูญเสียรายได้
- Physical Loss = น้ำสูญเสียทางกายภาพ (รั่วไหล)
- Commercial Loss = น้ำสูญเสียเชิงพาณิชย์ (มิเตอร์ผิดพลาด)
- DMA = District Metered Area = พื้นที่จ่ายน้ำย่อย
- MNF = Minimum Night Flow = อัตราการไหลต่ำสุดกลางคืน

ข้อกำหนด:
- ตอบเป็นภาษาไทยเสมอ ยกเว้นคำศัพท์เทคนิค
- ใช้ข้อมูลจาก context ที่ให้มาเท่านั้น
- หากไม่แน่ใจ ให้บอกว่าไม่ทราบ อย่าสมมติข้อมูล
- ระบุแหล่งอ้างอิงเมื่อให้ข้อมูลจากระบบ
- ใช้หน่วยวัดที่เหมาะสม: ลบ.ม. (ลูกบาศก์เมตร), บาร์ (ความดัน)
- แสดงวันที่เป็น พ.ศ. (ปฏิทินไทย)
`

// User-facing Thai replies for failure cases.
const (
	inputRejectedReply      = "ขออภัย ไม่สามารถประมวลผลข้อความนี้ได้"
	allProvidersFailedReply = "ขออภัย ระบบ AI ไม่สามารถให้บริการได้ในขณะนี้ กรุณาลองใหม่อีกครั้ง"
	streamFailedReply       = "ขออภัย ระบบ AI ไม่สามารถให้บริการได้ในขณะนี้"
)

// StreamEvent is one element of a streamed chat reply. Exactly one of the
// fields is meaningful: a token, the end-of-stream marker, or an error.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
}

// Gateway routes chat calls to the primary provider and fails over to the
// other one. Provider health is tracked with atomic flags; a provider is
// marked unhealthy on failure and healthy again on its next success.
type Gateway struct {
	providers      map[string]Provider
	healthy        map[string]*atomic.Bool
	primary        string
	fallback       string
	enableFallback bool
	systemPrompt   string
	guards         *guardrails.Guardrails
}

// NewGateway wires the providers behind one entry point. The first
// provider whose name matches cfg.Primary becomes primary; the other one
// is the fallback.
func NewGateway(cfg config.LLMConfig, guards *guardrails.Guardrails, providers ...Provider) *Gateway {
	g := &Gateway{
		providers:      make(map[string]Provider, len(providers)),
		healthy:        make(map[string]*atomic.Bool, len(providers)),
		primary:        cfg.Primary,
		enableFallback: cfg.EnableFallback,
		systemPrompt:   cfg.SystemPrompt,
		guards:         guards,
	}
	if g.systemPrompt == "" {
		g.systemPrompt = WARISSystemPrompt
	}
	if g.primary == "" {
		g.primary = "openrouter"
	}

	for _, p := range providers {
		g.providers[p.Name()] = p
		h := &atomic.Bool{}
		h.Store(true)
		g.healthy[p.Name()] = h
		if p.Name() != g.primary {
			g.fallback = p.Name()
		}
	}
	return g
}

// Chat runs the full guarded pipeline: input validation, provider call
// with failover, then output filtering. Total provider failure returns
// the Thai apology reply together with ErrAllProvidersFailed.
func (g *Gateway) Chat(ctx context.Context, messages []model.ChatMessage, opts Options, pinned string) (model.ChatResponse, error) {
	validated, reason := g.validateInput(messages)
	if reason != "" {
		return model.ChatResponse{Reply: inputRejectedReply, Filtered: true, Reason: reason}, nil
	}
	validated = g.ensureSystemMessage(validated)

	selected := g.primary
	if pinned != "" {
		selected = pinned
	}
	provider, ok := g.providers[selected]
	if !ok {
		return model.ChatResponse{}, fmt.Errorf("unknown llm provider: %q", selected)
	}

	reply, err := provider.Chat(ctx, validated, opts)
	if err == nil {
		g.healthy[selected].Store(true)
		return g.validateOutput(reply, selected), nil
	}

	log.Warnf("[LLMGateway] primary provider %s failed: %v", selected, err)
	g.healthy[selected].Store(false)

	// A pinned provider never falls over; the caller asked for it.
	if g.enableFallback && pinned == "" && g.fallback != "" && g.healthy[g.fallback].Load() {
		log.Infof("[LLMGateway] falling back to %s", g.fallback)
		fbReply, fbErr := g.providers[g.fallback].Chat(ctx, validated, Options{
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if fbErr == nil {
			g.healthy[g.fallback].Store(true)
			return g.validateOutput(fbReply, g.fallback), nil
		}
		log.Errorf("[LLMGateway] fallback provider %s also failed: %v", g.fallback, fbErr)
		g.healthy[g.fallback].Store(false)
	}

	return model.ChatResponse{Reply: allProvidersFailedReply},
		fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
}

// chanWriter forwards tokens into a stream event channel.
type chanWriter struct {
	ctx context.Context
	ch  chan<- StreamEvent
}

func (w *chanWriter) WriteToken(content string) error {
	select {
	case w.ch <- StreamEvent{Content: content}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// StreamChat runs the guarded pipeline with a streamed reply. The caller
// drains the returned channel until an event with Done or Err. On a
// mid-stream provider failure the stream restarts on the fallback;
// already delivered tokens stand.
func (g *Gateway) StreamChat(ctx context.Context, messages []model.ChatMessage, opts Options, pinned string) <-chan StreamEvent {
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)

		send := func(ev StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		validated, reason := g.validateInput(messages)
		if reason != "" {
			send(StreamEvent{Content: inputRejectedReply})
			send(StreamEvent{Done: true})
			return
		}
		validated = g.ensureSystemMessage(validated)

		selected := g.primary
		if pinned != "" {
			selected = pinned
		}
		provider, ok := g.providers[selected]
		if !ok {
			send(StreamEvent{Err: fmt.Errorf("unknown llm provider: %q", selected)})
			return
		}

		writer := &chanWriter{ctx: ctx, ch: ch}
		err := provider.StreamChat(ctx, validated, opts, writer)
		if err == nil {
			g.healthy[selected].Store(true)
			send(StreamEvent{Done: true})
			return
		}
		if ctx.Err() != nil {
			return
		}

		log.Warnf("[LLMGateway] streaming from %s failed: %v", selected, err)
		g.healthy[selected].Store(false)

		if g.enableFallback && pinned == "" && g.fallback != "" {
			log.Infof("[LLMGateway] falling back to %s for streaming", g.fallback)
			fbErr := g.providers[g.fallback].StreamChat(ctx, validated, Options{
				Temperature: opts.Temperature,
				MaxTokens:   opts.MaxTokens,
			}, writer)
			if fbErr == nil {
				g.healthy[g.fallback].Store(true)
				send(StreamEvent{Done: true})
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[LLMGateway] fallback streaming also failed: %v", fbErr)
			g.healthy[g.fallback].Store(false)
		}

		send(StreamEvent{Content: streamFailedReply})
		send(StreamEvent{Err: fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)})
	}()

	return ch
}

// CheckDomainRelevance reports whether a query touches the assistant's
// domain; for off-topic queries the polite reminder text is returned.
func (g *Gateway) CheckDomainRelevance(text string) (bool, string) {
	if g.guards.IsDomainRelevant(text) {
		return true, ""
	}
	return false, g.guards.DomainReminder()
}

// SystemPrompt reports the effective system prompt, for callers that
// build their own system message around retrieved context.
func (g *Gateway) SystemPrompt() string {
	return g.systemPrompt
}

// Status reports configuration and health of every provider, primary
// first.
func (g *Gateway) Status() []model.ProviderStatus {
	var statuses []model.ProviderStatus
	appendStatus := func(name string) {
		p, ok := g.providers[name]
		if !ok {
			return
		}
		statuses = append(statuses, model.ProviderStatus{
			Name:      p.Name(),
			Model:     p.Model(),
			Healthy:   g.healthy[name].Load(),
			Primary:   name == g.primary,
			Available: p.Available(),
		})
	}
	appendStatus(g.primary)
	for name := range g.providers {
		if name != g.primary {
			appendStatus(name)
		}
	}
	return statuses
}

// validateInput checks the conversation and sanitizes user turns. A
// non-empty reason means the input was rejected.
func (g *Gateway) validateInput(messages []model.ChatMessage) ([]model.ChatMessage, string) {
	if ok, reason := g.guards.ValidateConversation(messages); !ok {
		log.Warnf("[LLMGateway] conversation validation failed: %s", reason)
		return nil, reason
	}

	validated := make([]model.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != "user" {
			validated = append(validated, m)
			continue
		}
		ok, sanitized, reason := g.guards.CheckInput(m.Content)
		if !ok {
			log.Warnf("[LLMGateway] input validation failed: %s", reason)
			return nil, reason
		}
		validated = append(validated, model.ChatMessage{Role: "user", Content: sanitized})
	}
	return validated, ""
}

// validateOutput filters the reply and appends the estimation disclaimer
// when needed.
func (g *Gateway) validateOutput(reply, provider string) model.ChatResponse {
	ok, filtered := g.guards.CheckOutput(reply)
	resp := model.ChatResponse{
		Reply:    g.guards.WithDisclaimer(filtered),
		Provider: provider,
	}
	if !ok {
		resp.Filtered = true
		log.Warnf("[LLMGateway] output filtered")
	}
	return resp
}

func (g *Gateway) ensureSystemMessage(messages []model.ChatMessage) []model.ChatMessage {
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	return append([]model.ChatMessage{{Role: "system", Content: g.systemPrompt}}, messages...)
}
