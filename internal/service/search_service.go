// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"strings"

	"lawmate-go/internal/config"
	"lawmate-go/internal/model"
	"lawmate-go/pkg/es"
	"lawmate-go/pkg/log"
)

// SearchService 接口定义了消息全文搜索操作。
type SearchService interface {
	SearchMessages(ctx context.Context, user *model.User, query string, size int) ([]model.MessageDocument, error)
}

type searchService struct{}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService() SearchService {
	return &searchService{}
}

// SearchMessages 在用户自己的消息里做全文检索。
// 索引由 Kafka 消费端异步写入，结果对最近的消息可能有秒级延迟。
func (s *searchService) SearchMessages(ctx context.Context, user *model.User, query string, size int) ([]model.MessageDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.MessageDocument{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}

	log.Infof("[SearchService] 执行消息搜索, query: '%s', user: %s", query, user.Username)
	return es.SearchMessages(ctx, config.Conf.Elasticsearch.IndexName, user.ID, query, size)
}
