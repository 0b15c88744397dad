// Бэкенд очереди доставки поверх RocketMQ: публикация задания во внешний
// брокер вместо in-process каналов, с доставкой через push-consumer на
// стороне потребителя и мёртвой буквой (DLQ) после исчерпания переотправок.
// Отложенные напоминания остаются на локальной очереди (RocketMQ здесь не
// используется как планировщик произвольных будущих моментов — только как
// durable-транспорт уже созревших заданий), поэтому брокер оборачивает
// локальную *Queue, а не заменяет её целиком.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/resilience"
)

// RocketMQBrokerOptions — зависимости брокерного бэкенда очереди.
type RocketMQBrokerOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Topic      string
	Group      string
	MaxRetries int // порог msg.ReconsumeTimes, после которого задание уходит в DLQ_<topic>

	Sender     MessageSender
	Failed     *FailedStore
	Resilience *resilience.Wrapper

	// Local обслуживает отложенные напоминания (ScheduleReminder) и служит
	// запасным путём доставки, если публикация в брокер не удалась.
	Local *Queue
}

// RocketMQBroker — очередь доставки поверх RocketMQ producer/push-consumer.
// Реализует JobQueue наравне с локальной *Queue.
type RocketMQBroker struct {
	opts     RocketMQBrokerOptions
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer
	nextID   atomic.Int64
}

// NewRocketMQBroker поднимает producer (он запускается сразу) и push-consumer,
// подписывает consumer на основной топик. Start запускает только consumer.
func NewRocketMQBroker(opts RocketMQBrokerOptions) (*RocketMQBroker, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("rocketmq broker: sender is nil")
	}
	if opts.Failed == nil {
		return nil, fmt.Errorf("rocketmq broker: failed store is nil")
	}
	if opts.Resilience == nil {
		return nil, fmt.Errorf("rocketmq broker: resilience wrapper is nil")
	}
	if opts.Local == nil {
		return nil, fmt.Errorf("rocketmq broker: local fallback queue is nil")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("rocketmq broker: topic is empty")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	p, err := newProducer(opts.Endpoint, opts.AccessKey, opts.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("rocketmq broker: create producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("rocketmq broker: start producer: %w", err)
	}

	c, err := newPushConsumer(opts.Endpoint, opts.AccessKey, opts.SecretKey, opts.Group)
	if err != nil {
		_ = p.Shutdown()
		return nil, fmt.Errorf("rocketmq broker: create consumer: %w", err)
	}

	b := &RocketMQBroker{opts: opts, producer: p, consumer: c}

	if err := c.Subscribe(opts.Topic, consumer.MessageSelector{}, b.handleMessage); err != nil {
		_ = p.Shutdown()
		return nil, fmt.Errorf("rocketmq broker: subscribe: %w", err)
	}

	return b, nil
}

// Start запускает push-consumer (producer уже запущен в NewRocketMQBroker).
func (b *RocketMQBroker) Start(context.Context) error {
	if err := b.consumer.Start(); err != nil {
		return fmt.Errorf("rocketmq broker: start consumer: %w", err)
	}
	return nil
}

// Close останавливает consumer и producer.
func (b *RocketMQBroker) Close() error {
	if err := b.consumer.Shutdown(); err != nil {
		logger.Errorf("rocketmq broker: shutdown consumer: %v", err)
	}
	if err := b.producer.Shutdown(); err != nil {
		logger.Errorf("rocketmq broker: shutdown producer: %v", err)
	}
	return nil
}

// Enqueue публикует задание в топик брокера через Network-Resilience Wrapper
// (семейство "broker-publish"). Если публикация не удаётся после ретраев,
// задание не теряется — оно уходит в локальную очередь как запасной путь.
func (b *RocketMQBroker) Enqueue(job Job) int64 {
	if job.ID == 0 {
		job.ID = b.nextID.Add(1)
	}

	body, err := json.Marshal(job)
	if err != nil {
		logger.Errorf("rocketmq broker: marshal job %d: %v", job.ID, err)
		return b.opts.Local.Enqueue(job)
	}

	msg := primitive.NewMessage(b.opts.Topic, body)
	err = b.opts.Resilience.Do(context.Background(), resilience.FamilyBrokerPublish, func() error {
		_, sendErr := b.producer.SendSync(context.Background(), msg)
		return sendErr
	})
	if err != nil {
		logger.Warnf("rocketmq broker: publish job %d failed, falling back to local queue: %v", job.ID, err)
		return b.opts.Local.Enqueue(job)
	}

	return job.ID
}

// ScheduleReminder делегирует планирование локальной очереди: RocketMQ не
// используется как таймер произвольных будущих моментов.
func (b *RocketMQBroker) ScheduleReminder(reminder ReminderJob) {
	b.opts.Local.ScheduleReminder(reminder)
}

// handleMessage — колбэк push-consumer'а: разбирает Job, доставляет через
// Sender и классифицирует исход. ConsumeRetryLater просит RocketMQ
// переотправить сообщение позже (сетевой сбой, временная ошибка);
// ConsumeSuccess подтверждает получение (успех или окончательный отказ).
func (b *RocketMQBroker) handleMessage(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		if int(msg.ReconsumeTimes) >= b.opts.MaxRetries {
			logger.Warnf("rocketmq broker: message %s exceeded max retries (%d), sending to DLQ",
				msg.MsgId, b.opts.MaxRetries)
			if err := b.sendToDLQ(ctx, msg); err != nil {
				logger.Errorf("rocketmq broker: DLQ publish for %s failed: %v", msg.MsgId, err)
				return consumer.ConsumeRetryLater, nil
			}
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			logger.Errorf("rocketmq broker: malformed job body in %s, dropping: %v", msg.MsgId, err)
			continue
		}

		outcome, err := b.opts.Sender.Deliver(ctx, job)
		if err != nil {
			logger.Warnf("rocketmq broker: deliver job %d: %v", job.ID, err)
			return consumer.ConsumeRetryLater, nil
		}
		if outcome.NetworkDown || outcome.Retry {
			return consumer.ConsumeRetryLater, nil
		}
		if outcome.PermanentFailure {
			record := FailedRecord{Job: job, Error: fmt.Sprintf("%v", outcome.PermanentError)}
			if appendErr := b.opts.Failed.Append(record); appendErr != nil {
				logger.Errorf("rocketmq broker: record permanent failure for job %d: %v", job.ID, appendErr)
			}
		}
	}
	return consumer.ConsumeSuccess, nil
}

// sendToDLQ republishes the exhausted message onto a DLQ_-prefixed topic.
func (b *RocketMQBroker) sendToDLQ(ctx context.Context, msg *primitive.MessageExt) error {
	dlqMsg := primitive.NewMessage("DLQ_"+msg.Topic, msg.Body)
	dlqMsg.WithProperties(msg.GetProperties())
	_, err := b.producer.SendSync(ctx, dlqMsg)
	return err
}

func newProducer(endpoint, accessKey, secretKey string) (rocketmq.Producer, error) {
	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver([]string{endpoint})),
		producer.WithRetry(2),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: accessKey,
			SecretKey: secretKey,
		}))
	}
	return rocketmq.NewProducer(opts...)
}

func newPushConsumer(endpoint, accessKey, secretKey, group string) (rocketmq.PushConsumer, error) {
	opts := []consumer.Option{
		consumer.WithNsResolver(primitive.NewPassthroughResolver([]string{endpoint})),
		consumer.WithGroupName(group),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, consumer.WithCredentials(primitive.Credentials{
			AccessKey: accessKey,
			SecretKey: secretKey,
		}))
	}
	return rocketmq.NewPushConsumer(opts...)
}
