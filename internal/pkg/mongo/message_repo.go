package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, msgID string) (*Message, error)
	PageMessages(ctx context.Context, convID uint64, beforeSeq uint64, limit int) ([]*Message, bool, error)

	MarkRead(ctx context.Context, msgID string, readerID uint64) (*Message, bool, error)
	UpdateContent(ctx context.Context, msgID string, editorID uint64, newContent string) (*Message, error)
	SoftDelete(ctx context.Context, msgID string) (*Message, error)
	ApplyCorrection(ctx context.Context, msgID string, correctorID uint64, correction, originalSnapshot string) (*Message, error)

	ClearConversation(ctx context.Context, convID uint64) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 写入消息明细，ID 缺省时在本地生成 ObjectID
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// GetMessage 按 ID 精确查询
func (s *messageRepoImpl) GetMessage(ctx context.Context, msgID string) (*Message, error) {
	var msg Message
	err := s.col.FindOne(ctx, bson.M{"_id": msgID}).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// PageMessages 游标式历史分页
// beforeSeq 为当前页面最旧一条消息的序号，第一页传 0。
// 返回值按 seq 升序（显示顺序），第二个返回值表示是否还有更旧的消息。
// 游标锚定在 seq 上，新消息只会追加到更大的序号，老页翻页不受并发写入影响。
func (s *messageRepoImpl) PageMessages(ctx context.Context, convID uint64, beforeSeq uint64, limit int) ([]*Message, bool, error) {
	filter := bson.M{"conversation_id": convID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}

	// 多取一条探测是否还有更旧的页
	findOptions := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(limit + 1))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, false, err
	}

	hasMore := false
	if len(messages) > limit {
		hasMore = true
		messages = messages[:limit]
	}

	// 倒转为升序供显示
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, hasMore, nil
}

// MarkRead 幂等置已读
// 过滤条件排除发送者本人与已读消息，没有命中文档即视为重复回执，回读现状返回。
// 第二个返回值表示状态是否真的发生了翻转（决定是否需要广播回执）。
func (s *messageRepoImpl) MarkRead(ctx context.Context, msgID string, readerID uint64) (*Message, bool, error) {
	filter := bson.M{
		"_id":       msgID,
		"read":      false,
		"sender_id": bson.M{"$ne": readerID},
	}
	update := bson.M{"$set": bson.M{"read": true}}

	after := options.After
	var msg Message
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&msg)
	if err == nil {
		return &msg, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, err
	}

	// 未命中：要么消息不存在，要么已读/自读，回读区分
	existing, err := s.GetMessage(ctx, msgID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateContent 编辑消息正文，仅发送者可写且墓碑不可编辑
// 时间窗口校验由 service 层持有时钟完成
func (s *messageRepoImpl) UpdateContent(ctx context.Context, msgID string, editorID uint64, newContent string) (*Message, error) {
	filter := bson.M{
		"_id":       msgID,
		"sender_id": editorID,
		"deleted":   false,
	}
	update := bson.M{"$set": bson.M{"content": newContent, "edited": true}}

	after := options.After
	var msg Message
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDelete 软删除：正文置空、打墓碑，元数据保留，不可恢复
func (s *messageRepoImpl) SoftDelete(ctx context.Context, msgID string) (*Message, error) {
	update := bson.M{"$set": bson.M{"content": "", "media_ref": "", "deleted": true}}

	after := options.After
	var msg Message
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": msgID}, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ApplyCorrection 附加更正，不覆盖历史
// originalSnapshot 仅在首次更正时写入，后续更正保留最早的原文
func (s *messageRepoImpl) ApplyCorrection(ctx context.Context, msgID string, correctorID uint64, correction, originalSnapshot string) (*Message, error) {
	set := bson.M{
		"correction":   correction,
		"corrector_id": correctorID,
	}
	if originalSnapshot != "" {
		set["original_content"] = originalSnapshot
	}
	update := bson.M{"$set": set}

	after := options.After
	var msg Message
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": msgID, "deleted": false}, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ClearConversation 批量清空一个会话的全部消息
func (s *messageRepoImpl) ClearConversation(ctx context.Context, convID uint64) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"conversation_id": convID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
