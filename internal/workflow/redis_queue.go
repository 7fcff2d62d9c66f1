package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 执行队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 用 Redis list 承载待处理的执行 ID。
// 消息体只有执行 ID 本身：消费方拿到 ID 后从协同存储读快照续跑，
// 所以重复投递是安全的，最多让同一个执行被重新检查一遍。
type RedisQueue struct {
	client    *redis.Client
	queue     string
	blockWait time.Duration
}

// NewRedisQueue 创建 Redis 执行队列并验证连通性。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "h2k:executions"
	}
	blockWait := cfg.BlockWait
	if blockWait <= 0 {
		blockWait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{client: client, queue: queue, blockWait: blockWait}, nil
}

// Publish 实现 Producer 接口。
func (q *RedisQueue) Publish(ctx context.Context, executionID string) error {
	if err := q.client.LPush(ctx, q.queue, executionID).Err(); err != nil {
		return fmt.Errorf("Redis 发布执行任务失败: %w", err)
	}
	return nil
}

// Consume 实现 Consumer 接口，启动 workerCount 个阻塞弹出循环。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go q.consumeLoop(ctx, handler, errCh)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) consumeLoop(ctx context.Context, handler Handler, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		default:
		}
		values, err := q.client.BRPop(ctx, q.blockWait, q.queue).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				errCh <- err
				return
			}
			if err == redis.Nil {
				// 等待窗口内没有新执行，继续阻塞弹出。
				continue
			}
			errCh <- fmt.Errorf("Redis 取执行任务失败: %w", err)
			return
		}
		if len(values) != 2 {
			continue
		}
		executionID := values[1]
		if handlerErr := handler(ctx, executionID); handlerErr != nil {
			// 处理失败重新投递，下一次消费从最近快照续跑。
			_ = q.client.RPush(ctx, q.queue, executionID).Err()
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
