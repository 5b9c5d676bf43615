package authz

const (
	RoleAnonymous = "anonymous"
)

const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionReview = "review"
	ActionAdmin  = "admin"
)

const (
	ObjectRecords    = "governance.records"
	ObjectAudits     = "governance.audits"
	ObjectReviews    = "governance.reviews"
	ObjectReputation = "governance.reputation"
)
