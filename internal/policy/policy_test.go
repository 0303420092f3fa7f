package policy_test

import (
	"errors"
	"testing"

	"marketline/internal/domain"
	"marketline/internal/policy"
)

var (
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	buyer  = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	solver = domain.Actor{ID: "solver-1", Role: domain.RoleSolver}
)

func ownFacts(status domain.ProjectStatus) policy.Facts {
	return policy.Facts{BuyerID: buyer.ID, AssignedSolverID: solver.ID, ProjectStatus: status}
}

func TestAllow(t *testing.T) {
	cases := []struct {
		name   string
		actor  domain.Actor
		action policy.Action
		facts  policy.Facts
		allow  bool
	}{
		{"buyer creates project", buyer, policy.ProjectCreate, policy.Facts{}, true},
		{"solver cannot create project", solver, policy.ProjectCreate, policy.Facts{}, false},
		{"admin cannot create project", admin, policy.ProjectCreate, policy.Facts{}, false},

		{"admin reads any project", admin, policy.ProjectRead, ownFacts(domain.ProjectAssigned), true},
		{"owner reads own project", buyer, policy.ProjectRead, ownFacts(domain.ProjectAssigned), true},
		{"other buyer cannot read", domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}, policy.ProjectRead, ownFacts(domain.ProjectOpen), false},
		{"solver reads open project", domain.Actor{ID: "solver-2", Role: domain.RoleSolver}, policy.ProjectRead, ownFacts(domain.ProjectOpen), true},
		{"outside solver cannot read assigned project", domain.Actor{ID: "solver-2", Role: domain.RoleSolver}, policy.ProjectRead, ownFacts(domain.ProjectAssigned), false},
		{"assigned solver reads own assignment", solver, policy.ProjectRead, ownFacts(domain.ProjectAssigned), true},

		{"owner updates project", buyer, policy.ProjectUpdate, ownFacts(domain.ProjectOpen), true},
		{"admin cannot update project", admin, policy.ProjectUpdate, ownFacts(domain.ProjectOpen), false},

		{"solver files request", solver, policy.RequestCreate, policy.Facts{}, true},
		{"buyer cannot file request", buyer, policy.RequestCreate, policy.Facts{}, false},
		{"owner decides requests", buyer, policy.RequestDecide, ownFacts(domain.ProjectOpen), true},
		{"admin cannot decide requests", admin, policy.RequestDecide, ownFacts(domain.ProjectOpen), false},
		{"admin lists requests", admin, policy.RequestList, ownFacts(domain.ProjectOpen), true},
		{"solver lists own requests", solver, policy.RequestListMine, policy.Facts{}, true},
		{"buyer cannot list own requests", buyer, policy.RequestListMine, policy.Facts{}, false},

		{"assigned solver creates task", solver, policy.TaskCreate, ownFacts(domain.ProjectAssigned), true},
		{"owner cannot create task", buyer, policy.TaskCreate, ownFacts(domain.ProjectAssigned), false},
		{"outside solver cannot create task", domain.Actor{ID: "solver-2", Role: domain.RoleSolver}, policy.TaskCreate, ownFacts(domain.ProjectAssigned), false},
		{"owner reads tasks", buyer, policy.TaskRead, ownFacts(domain.ProjectAssigned), true},
		{"assigned solver reads tasks", solver, policy.TaskRead, ownFacts(domain.ProjectAssigned), true},

		{"assigned solver submits", solver, policy.SubmissionCreate, ownFacts(domain.ProjectAssigned), true},
		{"owner reviews submissions", buyer, policy.SubmissionReview, ownFacts(domain.ProjectAssigned), true},
		{"solver cannot review", solver, policy.SubmissionReview, ownFacts(domain.ProjectAssigned), false},
		{"admin cannot review", admin, policy.SubmissionReview, ownFacts(domain.ProjectAssigned), false},

		{"admin lists users", admin, policy.UserList, policy.Facts{}, true},
		{"buyer cannot list users", buyer, policy.UserList, policy.Facts{}, false},
		{"admin sets roles", admin, policy.UserSetRole, policy.Facts{}, true},
		{"solver cannot set roles", solver, policy.UserSetRole, policy.Facts{}, false},
	}
	for _, tc := range cases {
		err := policy.Allow(tc.actor, tc.action, tc.facts)
		if tc.allow && err != nil {
			t.Errorf("%s: unexpected deny: %v", tc.name, err)
		}
		if !tc.allow {
			var fe policy.ForbiddenError
			if !errors.As(err, &fe) {
				t.Errorf("%s: expected ForbiddenError, got %v", tc.name, err)
			} else if fe.Action != tc.action {
				t.Errorf("%s: error names action %s, want %s", tc.name, fe.Action, tc.action)
			}
		}
	}
}
