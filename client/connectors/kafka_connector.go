/*
 * @module KafkaConnector
 * @description Kafka阶段事件发布器：将会话阶段事件异步写入Kafka主题，供下游分析系统订阅
 * @architecture 适配器模式 - 封装第三方Kafka客户端，实现流水线事件发布接口
 * @documentReference DESIGN.md
 * @stateFlow 事件入队 -> 后台写入 -> 关闭时清空队列
 * @rules 发布不阻塞流水线；队列满时丢弃事件并计数；提示性进度不外发
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/pipeline/controller.go, service/init.go
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"survey-pipeline-service/service/models"
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher Kafka事件发布器
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	queue  *eventQueue
}

// NewKafkaPublisher 创建Kafka发布器并启动后台写入
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers 与 topic 不能为空")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
	slog.Info("Kafka事件发布器已创建", "brokers", brokers, "topic", topic)
	return newKafkaPublisher(topic, writer), nil
}

func newKafkaPublisher(topic string, writer messageWriter) *KafkaPublisher {
	p := &KafkaPublisher{topic: topic, writer: writer}
	p.queue = newEventQueue("kafka", p.write)
	return p
}

// Publish 事件入队，不阻塞
func (p *KafkaPublisher) Publish(event models.StageEvent) {
	p.queue.push(event)
}

func (p *KafkaPublisher) write(event models.StageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 以会话ID为key，同一会话的事件落在同一分区
	msg := kafka.Message{Key: []byte(event.SessionID), Value: payload, Time: event.At}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("写入topic %s 失败: %w", p.topic, err)
	}
	return nil
}

// Statistics 发布统计
func (p *KafkaPublisher) Statistics() map[string]int64 {
	return p.queue.statistics()
}

// Close 停止接收事件，发送完队列中剩余事件后关闭连接
func (p *KafkaPublisher) Close() error {
	if !p.queue.drain() {
		return nil
	}
	slog.Info("Kafka事件发布器已关闭", "topic", p.topic)
	return p.writer.Close()
}
