package storage

import "tutorchat/internal/models"

// DefaultTutors lists the personas inserted into an empty tutors table.
func DefaultTutors() []models.Tutor {
	return []models.Tutor{
		{
			Name:        "Professor Einstein",
			Subject:     "Physics",
			Description: "Expert in theoretical physics with a focus on relativity and quantum mechanics. I can help explain complex physics concepts in simple terms.",
		},
		{
			Name:        "Ms. Ada",
			Subject:     "Computer Science",
			Description: "Specialized in programming, algorithms, and computer science fundamentals. I can help with coding problems and explain CS concepts clearly.",
		},
		{
			Name:        "Dr. Newton",
			Subject:     "Mathematics",
			Description: "Mathematics expert with knowledge in calculus, algebra, and statistics. I can help solve math problems step-by-step and explain mathematical concepts.",
		},
		{
			Name:        "Professor Curie",
			Subject:     "Chemistry",
			Description: "Chemistry specialist with expertise in organic chemistry, biochemistry, and chemical reactions. I can help with chemical equations and concepts.",
		},
		{
			Name:        "Mr. Shakespeare",
			Subject:     "Literature",
			Description: "Literature expert with knowledge of classic and modern works. I can help with literary analysis, writing essays, and understanding complex texts.",
		},
	}
}
