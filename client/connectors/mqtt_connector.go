/*
 * @module MQTTConnector
 * @description MQTT阶段事件发布器：将会话阶段事件发布到 <topic>/<session_id>，供看板等轻量订阅方使用
 * @architecture 适配器模式 - 封装paho MQTT客户端，实现流水线事件发布接口
 * @documentReference DESIGN.md
 * @stateFlow 连接broker -> 事件入队 -> 后台发布 -> 断开
 * @rules 自动重连；发布不阻塞流水线；提示性进度不外发
 * @dependencies github.com/eclipse/paho.mqtt.golang, encoding/json
 * @refs service/pipeline/controller.go, service/init.go
 */

package connectors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"survey-pipeline-service/service/models"
)

const publishTimeout = 5 * time.Second

// MQTTPublisher MQTT事件发布器
type MQTTPublisher struct {
	client    mqtt.Client
	topic     string
	qos       byte
	connected atomic.Bool
	queue     *eventQueue
}

// NewMQTTPublisher 连接broker并创建发布器
func NewMQTTPublisher(broker, topic, clientID string) (*MQTTPublisher, error) {
	if broker == "" || topic == "" {
		return nil, fmt.Errorf("mqtt broker 与 topic 不能为空")
	}

	p := &MQTTPublisher{topic: strings.TrimRight(topic, "/"), qos: 1}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(p.onConnected)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", token.Error())
	}
	return newMQTTPublisher(client, p), nil
}

func newMQTTPublisher(client mqtt.Client, p *MQTTPublisher) *MQTTPublisher {
	p.client = client
	if client.IsConnected() {
		p.connected.Store(true)
	}
	p.queue = newEventQueue("mqtt", p.publish)
	return p
}

// Publish 事件入队，不阻塞
func (p *MQTTPublisher) Publish(event models.StageEvent) {
	p.queue.push(event)
}

// Topic 会话事件主题
func (p *MQTTPublisher) Topic(sessionID string) string {
	return p.topic + "/" + sessionID
}

func (p *MQTTPublisher) publish(event models.StageEvent) error {
	if !p.connected.Load() {
		return fmt.Errorf("MQTT客户端未连接")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 终态事件保留，后加入的订阅方能拿到最新状态
	token := p.client.Publish(p.Topic(event.SessionID), p.qos, event.Terminal(), payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("发布消息超时")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) onConnected(client mqtt.Client) {
	p.connected.Store(true)
	slog.Info("MQTT事件发布器已连接", "topic", p.topic)
}

func (p *MQTTPublisher) onConnectionLost(client mqtt.Client, err error) {
	p.connected.Store(false)
	slog.Warn("MQTT连接断开，等待自动重连", "error", err)
}

// IsConnected 是否已连接
func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Statistics 发布统计
func (p *MQTTPublisher) Statistics() map[string]int64 {
	return p.queue.statistics()
}

// Close 发送完队列中的事件后断开连接
func (p *MQTTPublisher) Close() error {
	if !p.queue.drain() {
		return nil
	}
	p.client.Disconnect(250)
	p.connected.Store(false)
	slog.Info("MQTT事件发布器已断开连接")
	return nil
}
