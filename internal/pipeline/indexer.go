// Package pipeline 定义了投递事件的异步处理流程。
package pipeline

import (
	"context"
	"fmt"

	"lawmate-go/internal/config"
	"lawmate-go/internal/model"
	"lawmate-go/pkg/es"
	"lawmate-go/pkg/log"
	"lawmate-go/pkg/tasks"
)

// Indexer 消费 Kafka 上的投递事件，把成功投递的消息写入 Elasticsearch，
// 供消息全文搜索使用。失败事件只记日志，不进索引。
type Indexer struct {
	esCfg config.ElasticsearchConfig
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(esCfg config.ElasticsearchConfig) *Indexer {
	return &Indexer{esCfg: esCfg}
}

// Process 处理一条投递事件。
func (p *Indexer) Process(ctx context.Context, event tasks.MessageDeliveryEvent) error {
	if event.Type != tasks.EventMessageDelivered {
		// 失败事件不需要进搜索索引
		log.Infof("[Indexer] 跳过非成功投递事件, MessageID: %s, Type: %s", event.MessageID, event.Type)
		return nil
	}

	doc := model.MessageDocument{
		MessageID: event.MessageID,
		ThreadID:  event.ThreadID,
		UserID:    event.UserID,
		Role:      event.Role,
		Content:   event.Content,
		CreatedAt: event.Timestamp,
	}

	if err := es.IndexMessage(ctx, p.esCfg.IndexName, doc); err != nil {
		log.Errorf("[Indexer] 索引消息失败, MessageID: %s, Error: %v", event.MessageID, err)
		return fmt.Errorf("索引消息失败: %w", err)
	}

	log.Infof("[Indexer] 消息已写入搜索索引, MessageID: %s, ThreadID: %s", event.MessageID, event.ThreadID)
	return nil
}
