package agent

import "errors"

var (
	// ErrWorkerNotFound 注册表中没有该工作者
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrDuplicateWorker 工作者名称已被占用
	ErrDuplicateWorker = errors.New("worker name already registered")

	// ErrSelfAssociate 不允许指向自身的关联边
	ErrSelfAssociate = errors.New("worker cannot associate with itself")

	// ErrGraphInconsistent 正向边与反向引用不一致
	ErrGraphInconsistent = errors.New("associate graph is inconsistent")
)
