package service

// EventPublisher 将房间内的事件推送给该房间的所有订阅者。
// 投递是尽力而为的，实现不能阻塞调用方。
type EventPublisher interface {
	Publish(roomCode, event string, payload interface{})
}

// noopPublisher 在没有注入广播器时使用
type noopPublisher struct{}

func (noopPublisher) Publish(string, string, interface{}) {}
