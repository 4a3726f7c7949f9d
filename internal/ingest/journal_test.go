package ingest

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltJournal", func() {
	var (
		path    string
		journal *BoltJournal
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "journal.db")
		var err error
		journal, err = NewBoltJournal(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		journal.Close()
	})

	entry := func(id string, createdAt time.Time) *Submission {
		return &Submission{
			ID:        id,
			Title:     "Receipt 2024-03-20",
			Date:      "2024-03-20",
			Attached:  true,
			CreatedAt: createdAt,
		}
	}

	Describe("Append and List", func() {
		When("the journal is empty", func() {
			It("should return an empty list", func() {
				subs, err := journal.List()
				Expect(err).NotTo(HaveOccurred())
				Expect(subs).To(BeEmpty())
			})
		})

		When("submissions have been appended", func() {
			BeforeEach(func() {
				base := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
				Expect(journal.Append(entry("older", base))).To(Succeed())
				Expect(journal.Append(entry("newer", base.Add(time.Hour)))).To(Succeed())
			})

			It("should list them newest first", func() {
				subs, err := journal.List()
				Expect(err).NotTo(HaveOccurred())
				Expect(subs).To(HaveLen(2))
				Expect(subs[0].ID).To(Equal("newer"))
				Expect(subs[1].ID).To(Equal("older"))
			})

			It("should round-trip the fields", func() {
				subs, err := journal.List()
				Expect(err).NotTo(HaveOccurred())
				Expect(subs[1].Title).To(Equal("Receipt 2024-03-20"))
				Expect(subs[1].Attached).To(BeTrue())
			})
		})
	})

	Describe("persistence", func() {
		It("should survive a close and reopen", func() {
			Expect(journal.Append(entry("kept", time.Now()))).To(Succeed())
			Expect(journal.Close()).To(Succeed())

			reopened, err := NewBoltJournal(path)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			subs, err := reopened.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].ID).To(Equal("kept"))
		})
	})
})
