package kafka

import (
	"Murmur/internal/api/config"
	"Murmur/internal/pkg/consts"
	log "log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// NotifyEvent 站外通知事件，由下游通知服务消费
type NotifyEvent struct {
	ReceiverID     uint64    `json:"receiver_id"`
	SenderID       uint64    `json:"sender_id"`
	ConversationID uint64    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotifyProducer 尽力而为的通知投递：失败只记日志，绝不影响消息发送主链路
type NotifyProducer interface {
	NotifyNewMessage(evt *NotifyEvent)
	Close() error
}

type notifyProducerImpl struct {
	producer sarama.AsyncProducer
}

// NewNotifyProducer 构造函数，同时消费后台错误通道避免堆积
func NewNotifyProducer(cfg *config.Config) (NotifyProducer, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	p := &notifyProducerImpl{producer: producer}

	go func() {
		for range producer.Successes() {
		}
	}()
	go func() {
		for err := range producer.Errors() {
			log.Warn("通知投递失败", "topic", err.Msg.Topic, "err", err.Err)
		}
	}()

	return p, nil
}

// NotifyNewMessage 异步投递新消息通知，队列满时直接丢弃
func (s *notifyProducerImpl) NotifyNewMessage(evt *NotifyEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Warn("通知事件序列化失败", "err", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: consts.TopicIMNotification,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.ReceiverID, 10)),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case s.producer.Input() <- msg:
	default:
		log.Warn("通知队列已满，丢弃", "receiver", evt.ReceiverID)
	}
}

func (s *notifyProducerImpl) Close() error {
	return s.producer.Close()
}
