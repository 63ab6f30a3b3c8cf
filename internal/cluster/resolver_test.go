package cluster

import "testing"

func noName(string) (bool, bool)    { return false, false }
func noMatch(string) (string, bool) { return "", false }

func TestResolveDNSSDNaming(t *testing.T) {
	r := &Resolver{}
	d, err := r.Resolve(Candidate{
		ServiceName:     "Lab Printer @ lab",
		MakeModel:       "Example MFG 9000",
		RemoteQueueName: "lab",
		RemoteHost:      "lab.local",
		CupsQueue:       true,
	}, NamingPolicy{}, noName, noMatch)
	if err != nil {
		t.Fatal(err)
	}
	if d.QueueName != "Lab_Printer_lab" {
		t.Fatalf("queue name = %q", d.QueueName)
	}
}

func TestResolveMakeModelNaming(t *testing.T) {
	r := &Resolver{}
	d, err := r.Resolve(Candidate{
		ServiceName: "Lab Printer @ lab",
		MakeModel:   "Example MFG 9000",
		RemoteHost:  "lab.local",
	}, NamingPolicy{IPPPrinter: SourceMakeModel}, noName, noMatch)
	if err != nil {
		t.Fatal(err)
	}
	if d.QueueName != "Example-MFG-9000" {
		t.Fatalf("queue name = %q", d.QueueName)
	}
}

func TestResolveForeignNameForcesHostSuffix(t *testing.T) {
	r := &Resolver{}
	exists := func(name string) (bool, bool) {
		return name == "Lab_Printer", false // taken by a queue we do not manage
	}
	d, err := r.Resolve(Candidate{
		ServiceName: "Lab Printer",
		RemoteHost:  "lab.local",
	}, NamingPolicy{}, exists, noMatch)
	if err != nil {
		t.Fatal(err)
	}
	if d.QueueName != "Lab_Printer@lab_local" {
		t.Fatalf("fallback name = %q", d.QueueName)
	}
}

func TestResolveUserDefinedClusterWins(t *testing.T) {
	r := &Resolver{Clusters: []Definition{{
		LocalQueueName: "FrontOffice",
		Matchers:       []Matcher{{Value: "Example MFG 9000"}},
	}}}
	d, err := r.Resolve(Candidate{
		ServiceName: "Printer one",
		MakeModel:   "Example MFG 9000",
		RemoteHost:  "one.local",
	}, NamingPolicy{}, noName, noMatch)
	if err != nil {
		t.Fatal(err)
	}
	if d.QueueName != "FrontOffice" || d.JoinedCluster != "FrontOffice" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestResolveAutoClusterSecondRecordJoinsFirst(t *testing.T) {
	r := &Resolver{AutoCluster: true}
	sameName := func(name string) (string, bool) {
		if name == "Example-MFG-9000" {
			return "master-entry-id", true
		}
		return "", false
	}
	d, err := r.Resolve(Candidate{
		MakeModel:  "Example MFG 9000",
		RemoteHost: "two.local",
	}, NamingPolicy{IPPPrinter: SourceMakeModel}, noName, sameName)
	if err != nil {
		t.Fatal(err)
	}
	if d.AutoClusterFor != "master-entry-id" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestResolveCollisionWithoutAutoClusterFails(t *testing.T) {
	r := &Resolver{AutoCluster: false}
	sameName := func(name string) (string, bool) { return "other", true }
	_, err := r.Resolve(Candidate{
		MakeModel:  "Example MFG 9000",
		RemoteHost: "two.local",
	}, NamingPolicy{IPPPrinter: SourceMakeModel}, noName, sameName)
	if err == nil {
		t.Fatalf("expected a collision error with auto-clustering off")
	}
}

func TestResolveExcludedNameFallsBack(t *testing.T) {
	r := &Resolver{}
	d, err := r.Resolve(Candidate{
		ServiceName:  "Lab Printer",
		RemoteHost:   "lab.local",
		ExcludedName: "Lab_Printer",
	}, NamingPolicy{}, noName, noMatch)
	if err != nil {
		t.Fatal(err)
	}
	if d.QueueName != "Lab_Printer@lab_local" {
		t.Fatalf("queue name = %q", d.QueueName)
	}
}
