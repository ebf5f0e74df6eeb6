// Package friend は友達申請の状態遷移を管理する。
//
// 承認済みの友達関係は双方向2本の承認済みエッジで表し、
// 申請中は申請者から相手への未承認エッジ1本で表す。
// 同じユーザーペアに対する操作はkeylockで直列化し、
// 複数エッジの更新はリポジトリのトランザクションで原子的に行う。
package friend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/bookshare/internal/keylock"
	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// Service は友達関係のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	friendRepo repository.FriendRepository
	locks      *keylock.Locker
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locksがnilの場合は専用のLockerを生成する。
func NewService(
	userRepo repository.UserRepository,
	friendRepo repository.FriendRepository,
	locks *keylock.Locker,
) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		userRepo:   userRepo,
		friendRepo: friendRepo,
		locks:      locks,
		now:        time.Now,
	}
}

// RequestFriend はrequesterIDからtargetIDへの友達申請を作成する。
// 同じ向きのエッジが申請中・承認済みを問わず存在する場合はConflictを返す。
func (s *Service) RequestFriend(ctx context.Context, requesterID, targetID int64) error {
	if requesterID == targetID {
		return model.NewFriendSelfError()
	}

	for _, id := range []int64{requesterID, targetID} {
		u, err := s.userRepo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError(id)
		}
	}

	unlock := s.locks.Lock(keylock.PairKey(requesterID, targetID))
	defer unlock()

	edge, err := s.friendRepo.FindEdge(ctx, requesterID, targetID)
	if err != nil {
		return fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}
	if edge != nil {
		return model.NewFriendRequestExistsError(targetID)
	}

	created, err := s.friendRepo.CreateRequest(ctx, requesterID, targetID, s.now())
	if errors.Is(err, repository.ErrUserNotFound) {
		// 確認後に申請者か申請先が退会した
		return model.NewUserNotFoundError(requesterID)
	}
	if err != nil {
		return fmt.Errorf("友達申請の作成に失敗しました: %w", err)
	}
	if !created {
		// 他プロセスが同時に同じ申請を作成した
		return model.NewFriendRequestExistsError(targetID)
	}
	return nil
}

// AcceptRequest はrequesterIDからaccepterIDへの申請を承認し、逆向きの承認済みエッジを作成する。
func (s *Service) AcceptRequest(ctx context.Context, accepterID, requesterID int64) error {
	unlock := s.locks.Lock(keylock.PairKey(accepterID, requesterID))
	defer unlock()

	if err := s.requirePending(ctx, accepterID, requesterID); err != nil {
		return err
	}

	ok, err := s.friendRepo.Accept(ctx, requesterID, accepterID, s.now())
	if err != nil {
		return fmt.Errorf("友達申請の承認に失敗しました: %w", err)
	}
	if !ok {
		return model.NewFriendRequestNotFoundError(requesterID)
	}
	return nil
}

// RejectRequest はrequesterIDからaccepterIDへの申請を削除する。逆向きのエッジには影響しない。
func (s *Service) RejectRequest(ctx context.Context, accepterID, requesterID int64) error {
	unlock := s.locks.Lock(keylock.PairKey(accepterID, requesterID))
	defer unlock()

	if err := s.requirePending(ctx, accepterID, requesterID); err != nil {
		return err
	}

	ok, err := s.friendRepo.DeletePending(ctx, requesterID, accepterID)
	if err != nil {
		return fmt.Errorf("友達申請の削除に失敗しました: %w", err)
	}
	if !ok {
		return model.NewFriendRequestNotFoundError(requesterID)
	}
	return nil
}

// requirePending は (requesterID → accepterID) の申請中エッジが存在することを確認する。
// 存在せず逆向きの申請中エッジがある場合、呼び出し元は申請者自身なのでUnauthorizedを返す。
func (s *Service) requirePending(ctx context.Context, accepterID, requesterID int64) error {
	edge, err := s.friendRepo.FindEdge(ctx, requesterID, accepterID)
	if err != nil {
		return fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}
	if edge != nil && !edge.Accepted {
		return nil
	}

	reverse, err := s.friendRepo.FindEdge(ctx, accepterID, requesterID)
	if err != nil {
		return fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}
	if reverse != nil && !reverse.Accepted {
		return model.NewNotRequestTargetError()
	}
	return model.NewFriendRequestNotFoundError(requesterID)
}

// Unfriend は両方向の承認済みエッジを削除する。
// 片方向しか存在しない場合は不変条件違反としてConsistencyErrorを返し、何も削除しない。
func (s *Service) Unfriend(ctx context.Context, userID, friendID int64) error {
	unlock := s.locks.Lock(keylock.PairKey(userID, friendID))
	defer unlock()

	forward, err := s.friendRepo.FindEdge(ctx, userID, friendID)
	if err != nil {
		return fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}
	backward, err := s.friendRepo.FindEdge(ctx, friendID, userID)
	if err != nil {
		return fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}

	hasForward := forward != nil && forward.Accepted
	hasBackward := backward != nil && backward.Accepted
	switch {
	case !hasForward && !hasBackward:
		return model.NewFriendshipNotFoundError(friendID)
	case hasForward != hasBackward:
		return model.NewConsistencyError(fmt.Sprintf("片方向のみの友達エッジです: %d - %d", userID, friendID))
	}

	n, err := s.friendRepo.DeleteMutual(ctx, userID, friendID)
	if err != nil {
		return fmt.Errorf("友達の削除に失敗しました: %w", err)
	}
	switch n {
	case 2:
		return nil
	case 0:
		return model.NewFriendshipNotFoundError(friendID)
	default:
		return model.NewConsistencyError(fmt.Sprintf("友達エッジの削除件数が不正です: %d", n))
	}
}

// ListFriends はuserIDの友達のユーザーIDを昇順で返す。
func (s *Service) ListFriends(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.friendRepo.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("友達一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// ListIncomingRequests はuserIDに申請しているユーザーIDを昇順で返す。
func (s *Service) ListIncomingRequests(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.friendRepo.ListRequesterIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("友達申請一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// ListOutgoingRequests はuserIDが申請中の相手のユーザーIDを昇順で返す。
func (s *Service) ListOutgoingRequests(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.friendRepo.ListRequestedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("申請中一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}
