package models

import "testing"

func TestResolveDedup(t *testing.T) {
	tests := []struct {
		name        string
		doc         int64
		memberships []DedupMembership
		wantStatus  DedupStatus
		wantPrimary int64
		wantCluster int64
	}{
		{"no clusters", 5, nil, DedupUnique, 0, 0},
		{"primary of one cluster", 1, []DedupMembership{{ClusterID: 3, Method: MethodMinHash, PrimaryDocID: 1}}, DedupUnique, 1, 3},
		{"near member", 2, []DedupMembership{{ClusterID: 3, Method: MethodMinHash, PrimaryDocID: 1}}, DedupNearDup, 1, 3},
		{"exact primary keeps near membership", 2, []DedupMembership{
			{ClusterID: 3, Method: MethodMinHash, PrimaryDocID: 1},
			{ClusterID: 7, Method: MethodExact, PrimaryDocID: 2},
		}, DedupNearDup, 1, 3},
		{"exact member outranks near member", 4, []DedupMembership{
			{ClusterID: 3, Method: MethodHybrid, PrimaryDocID: 1},
			{ClusterID: 7, Method: MethodExact, PrimaryDocID: 2},
		}, DedupExactDup, 2, 7},
		{"primary everywhere points at latest cluster", 1, []DedupMembership{
			{ClusterID: 3, Method: MethodMinHash, PrimaryDocID: 1},
			{ClusterID: 9, Method: MethodExact, PrimaryDocID: 1},
		}, DedupUnique, 1, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, primary, cluster := ResolveDedup(tt.doc, tt.memberships)
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if tt.wantPrimary == 0 {
				if primary != nil || cluster != nil {
					t.Errorf("primary = %v, cluster = %v, want nil", primary, cluster)
				}
				return
			}
			if primary == nil || *primary != tt.wantPrimary {
				t.Errorf("primary = %v, want %d", primary, tt.wantPrimary)
			}
			if cluster == nil || *cluster != tt.wantCluster {
				t.Errorf("cluster = %v, want %d", cluster, tt.wantCluster)
			}
		})
	}
}
