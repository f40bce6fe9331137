package records_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kardolus/shellpilot/records"
	. "github.com/onsi/gomega"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"
)

func TestUnitRecords(t *testing.T) {
	spec.Run(t, "Testing the record stores", testRecords, spec.Report(report.Terminal{}))
}

func testRecords(t *testing.T, when spec.G, it spec.S) {
	var (
		dir string
		ctx context.Context
	)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := func(id string, offset time.Duration) records.Record {
		return records.Record{
			RunID:     id,
			PlanID:    "plan-" + id,
			Goal:      "install nginx",
			Host:      "web-1",
			Mode:      "self_correcting",
			StartedAt: start.Add(offset),
			EndedAt:   start.Add(offset + 90*time.Second),
			Status:    "completed",
			Steps:     2,
			Attempts: []records.Attempt{
				{StepID: "step-1", Attempt: 1, Command: "apt-get install -y nginx", Succeeded: true, Duration: time.Second},
				{StepID: "step-2", StepIndex: 1, Attempt: 1, Command: "systemctl status nginx", Succeeded: true},
			},
			Tokens: records.Tokens{Total: 420, Calls: 3},
		}
	}

	it.Before(func() {
		RegisterTestingT(t)
		ctx = context.Background()
		dir = t.TempDir()
	})

	it("computes the run duration", func() {
		Expect(record("a", 0).Duration()).To(Equal(90 * time.Second))
		Expect(records.Record{StartedAt: start, EndedAt: start.Add(-time.Second)}.Duration()).To(BeZero())
	})

	when("FileStore", func() {
		var subject *records.FileStore

		it.Before(func() {
			subject = records.NewFileStore(filepath.Join(dir, "records"))
		})

		it("returns nothing before the first append", func() {
			rs, err := subject.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(BeEmpty())
		})

		it("appends and lists records oldest first", func() {
			Expect(subject.Append(ctx, record("b", time.Hour))).To(Succeed())
			Expect(subject.Append(ctx, record("a", 0))).To(Succeed())

			rs, err := subject.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(HaveLen(2))
			Expect(rs[0].RunID).To(Equal("a"))
			Expect(rs[1].RunID).To(Equal("b"))
			Expect(rs[0].Attempts).To(HaveLen(2))
			Expect(rs[0].Tokens.Total).To(Equal(420))
		})

		it("skips files it cannot decode", func() {
			Expect(subject.Append(ctx, record("a", 0))).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "records", "junk.json"), []byte("{"), 0o644)).To(Succeed())

			rs, err := subject.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(HaveLen(1))
		})

		it("rejects a record without a run id", func() {
			Expect(subject.Append(ctx, records.Record{})).To(MatchError("record is missing a run id"))
		})
	})

	when("SQLiteStore", func() {
		var subject *records.SQLiteStore

		it.Before(func() {
			var err error
			subject, err = records.NewSQLiteStore(filepath.Join(dir, "db", "records.db"))
			Expect(err).NotTo(HaveOccurred())
		})

		it.After(func() {
			Expect(subject.Close()).To(Succeed())
		})

		it("appends and lists records oldest first", func() {
			Expect(subject.Append(ctx, record("b", time.Hour))).To(Succeed())
			Expect(subject.Append(ctx, record("a", 0))).To(Succeed())

			rs, err := subject.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(HaveLen(2))
			Expect(rs[0].RunID).To(Equal("a"))
			Expect(rs[0].StartedAt.Equal(start)).To(BeTrue())
			Expect(rs[1].Attempts[0].Command).To(Equal("apt-get install -y nginx"))
		})

		it("refuses a duplicate run id", func() {
			Expect(subject.Append(ctx, record("a", 0))).To(Succeed())
			Expect(subject.Append(ctx, record("a", 0))).NotTo(Succeed())
		})
	})
}
