package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/domain"
)

// ErrInvalidJob 消息内容无法执行
var ErrInvalidJob = errors.New("invalid batch job")

// BatchJob 一个批次提取任务
type BatchJob struct {
	Encoding domain.Encoding `json:"encoding"`
	Batch    string          `json:"batch"`
	MalDir   string          `json:"mal_dir"`
	BenDir   string          `json:"ben_dir"`
}

// Validate 检查必填字段
func (j *BatchJob) Validate() error {
	if !j.Encoding.Valid() {
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidJob, j.Encoding)
	}
	if j.Batch == "" {
		return fmt.Errorf("%w: batch is required", ErrInvalidJob)
	}
	if j.MalDir == "" || j.BenDir == "" {
		return fmt.Errorf("%w: mal_dir and ben_dir are required", ErrInvalidJob)
	}
	return nil
}

// EncodeJob 序列化并校验
func EncodeJob(job *BatchJob) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(job)
}

// DecodeJob 反序列化并校验
func DecodeJob(body []byte) (*BatchJob, error) {
	var job BatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
