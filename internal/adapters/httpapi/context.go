package httpapi

import (
	"context"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

type memberKey struct{}

// WithMember stores the authenticated caller in ctx.
func WithMember(ctx context.Context, id domain.MemberID) context.Context {
	return context.WithValue(ctx, memberKey{}, id)
}

func MemberFromContext(ctx context.Context) (domain.MemberID, bool) {
	v, ok := ctx.Value(memberKey{}).(domain.MemberID)
	return v, ok && v != ""
}
