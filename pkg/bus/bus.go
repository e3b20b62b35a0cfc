package bus

import (
	"log"
	"sync"
)

// MessageBus decouples transport channels from the dispatcher and the
// decision pipeline. Inbound envelopes and outbound payloads each flow
// through a single buffered FIFO; Publish blocks once the FIFO is full.
type MessageBus struct {
	inbound             chan Envelope
	outbound            chan Payload
	outboundSubscribers map[string][]func(Payload)
	channelQueues       map[string]chan Payload
	subscribersMu       sync.RWMutex
	stopChan            chan struct{}
	stopOnce            sync.Once
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:             make(chan Envelope, 100),
		outbound:            make(chan Payload, 100),
		outboundSubscribers: make(map[string][]func(Payload)),
		channelQueues:       make(map[string]chan Payload),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound publishes an envelope from a transport to the dispatcher.
func (b *MessageBus) PublishInbound(env Envelope) {
	b.inbound <- env
}

// ConsumeInbound returns the channel to consume inbound envelopes.
func (b *MessageBus) ConsumeInbound() <-chan Envelope {
	return b.inbound
}

// PublishOutbound queues a payload for delivery by its transport.
func (b *MessageBus) PublishOutbound(p Payload) {
	b.outbound <- p
}

// ConsumeOutbound returns the outbound FIFO directly. Mutually
// exclusive with running DispatchOutbound; there is one consumer.
func (b *MessageBus) ConsumeOutbound() <-chan Payload {
	return b.outbound
}

// SubscribeOutbound subscribes a transport to outbound payloads addressed
// to it (by Payload.Channel).
func (b *MessageBus) SubscribeOutbound(channel string, callback func(Payload)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound drains the outbound FIFO and routes each payload to
// its channel's delivery worker. Delivery is serial per channel, so two
// payloads to the same transport arrive in the order they were
// published. This should be run in a goroutine.
func (b *MessageBus) DispatchOutbound() {
	for {
		select {
		case p := <-b.outbound:
			select {
			case b.queueFor(p.Channel) <- p:
			case <-b.stopChan:
				return
			}
		case <-b.stopChan:
			return
		}
	}
}

// queueFor returns the delivery queue for a channel, spawning its
// worker on first use.
func (b *MessageBus) queueFor(channel string) chan Payload {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	q, ok := b.channelQueues[channel]
	if !ok {
		q = make(chan Payload, 100)
		b.channelQueues[channel] = q
		go b.deliverLoop(q)
	}
	return q
}

func (b *MessageBus) deliverLoop(q chan Payload) {
	for {
		select {
		case p := <-q:
			b.subscribersMu.RLock()
			subscribers := b.outboundSubscribers[p.Channel]
			b.subscribersMu.RUnlock()

			if len(subscribers) == 0 {
				log.Printf("No transport subscribed for channel %q, dropping payload (echo=%s)", p.Channel, p.Echo)
				continue
			}
			for _, cb := range subscribers {
				b.invoke(cb, p)
			}
		case <-b.stopChan:
			return
		}
	}
}

func (b *MessageBus) invoke(cb func(Payload), p Payload) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error in outbound subscriber callback: %v", r)
		}
	}()
	cb(p)
}

// Stop stops the dispatcher loop.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
